package errors

import "net/http"

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTimeout            ErrorCode = "COMMON_007"
	ErrCodeValidation         ErrorCode = "COMMON_008"
	ErrCodeDatabaseError      ErrorCode = "COMMON_009"
	ErrCodeCacheError         ErrorCode = "COMMON_010"
	ErrCodeExternalService    ErrorCode = "COMMON_011"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_012"
)

// Filename-parse error codes. Parse failures are expected outcomes routed to
// manual handling, never fatal to a batch.
const (
	ErrCodeParseMissingComma ErrorCode = "PARSE_001"
	ErrCodeParseInvalidID    ErrorCode = "PARSE_002"
	ErrCodeParseUnrecognized ErrorCode = "PARSE_003"
	ErrCodeParseBadExtension ErrorCode = "PARSE_004"
)

// Patient-matching error codes. MATCH_002 marks registry infrastructure
// failures, which are retryable and distinct from "no match found" (a valid,
// non-error outcome that never produces an error at all).
const (
	ErrCodeMatchInvalidIdentity     ErrorCode = "MATCH_001"
	ErrCodeMatchRegistryUnavailable ErrorCode = "MATCH_002"
	ErrCodeMatchPatientCreate       ErrorCode = "MATCH_003"
)

// Content-processing error codes, one per external sub-step so partial
// success under BOTH mode stays attributable.
const (
	ErrCodeProcExtraction ErrorCode = "PROC_001"
	ErrCodeProcIndexing   ErrorCode = "PROC_002"
	ErrCodeProcStorage    ErrorCode = "PROC_003"
	ErrCodeProcTimeout    ErrorCode = "PROC_004"
)

// Session lifecycle error codes.
const (
	ErrCodeSessionNotFound     ErrorCode = "SESSION_001"
	ErrCodeSessionInvalidState ErrorCode = "SESSION_002"
	ErrCodeSessionFileNotFound ErrorCode = "SESSION_003"
	ErrCodeSessionCancelled    ErrorCode = "SESSION_004"
)

// Review gateway error codes.
const (
	ErrCodeReviewNotRequired   ErrorCode = "REVIEW_001"
	ErrCodeReviewInvalidChoice ErrorCode = "REVIEW_002"
	ErrCodeReviewForbidden     ErrorCode = "REVIEW_003"
)

// Aliases kept for the most common call sites.
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeOK           = ErrorCode("OK")
)

// retryableCodes marks the categories a caller may retry without operator
// intervention.
var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:                  true,
	ErrCodeDatabaseError:            true,
	ErrCodeCacheError:               true,
	ErrCodeExternalService:          true,
	ErrCodeServiceUnavailable:       true,
	ErrCodeMatchRegistryUnavailable: true,
	ErrCodeProcExtraction:           true,
	ErrCodeProcIndexing:             true,
	ErrCodeProcStorage:              true,
	ErrCodeProcTimeout:              true,
}

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,

	ErrCodeParseMissingComma: http.StatusUnprocessableEntity,
	ErrCodeParseInvalidID:    http.StatusUnprocessableEntity,
	ErrCodeParseUnrecognized: http.StatusUnprocessableEntity,
	ErrCodeParseBadExtension: http.StatusUnprocessableEntity,

	ErrCodeMatchInvalidIdentity:     http.StatusBadRequest,
	ErrCodeMatchRegistryUnavailable: http.StatusServiceUnavailable,
	ErrCodeMatchPatientCreate:       http.StatusInternalServerError,

	ErrCodeProcExtraction: http.StatusBadGateway,
	ErrCodeProcIndexing:   http.StatusBadGateway,
	ErrCodeProcStorage:    http.StatusInternalServerError,
	ErrCodeProcTimeout:    http.StatusGatewayTimeout,

	ErrCodeSessionNotFound:     http.StatusNotFound,
	ErrCodeSessionInvalidState: http.StatusConflict,
	ErrCodeSessionFileNotFound: http.StatusNotFound,
	ErrCodeSessionCancelled:    http.StatusConflict,

	ErrCodeReviewNotRequired:   http.StatusConflict,
	ErrCodeReviewInvalidChoice: http.StatusBadRequest,
	ErrCodeReviewForbidden:     http.StatusForbidden,
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// IsRetryableCode reports whether the code class permits automated retries.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
