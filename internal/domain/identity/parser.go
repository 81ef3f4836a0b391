package identity

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// The institutional filename convention, the one wire contract of the
// pipeline:
//
//	<externalRecordId>_<SURNAMES, GIVEN NAMES>_<secondaryRecordNumber>_<TYPE>.<ext>
//
// externalRecordId and secondaryRecordNumber are digit sequences, the name
// segment contains exactly one comma separating surnames from given names,
// secondaryRecordNumber is optional, TYPE is a short uppercase token, and the
// extension check is case-insensitive.
var filenameRe = regexp.MustCompile(
	`^(\d+)_([^,_]+),\s*([^_]+?)(?:_(\d+))?_([A-Z]{2,6})\.((?i:pdf|docx?|txt))$`)

// recognisedExtRe validates the extension in isolation so a bad extension can
// be reported with its own reason instead of a generic structure failure.
var recognisedExtRe = regexp.MustCompile(`(?i)\.(pdf|docx?|txt)$`)

// ParseResult pairs the outcome of parsing one filename: exactly one of
// Identity or Err is set.
type ParseResult struct {
	Identity *PatientIdentity
	Err      *ParseError
}

// Parse extracts a PatientIdentity from filename.  It never panics and never
// returns an infrastructure error; every failure is a ParseError with a
// reason code and an actionable suggestion.
func Parse(filename string) (*PatientIdentity, *ParseError) {
	trimmed := strings.TrimSpace(filename)
	if trimmed == "" {
		return nil, &ParseError{
			Filename:   filename,
			Reason:     ReasonUnrecognizedStructure,
			Suggestion: "filename is empty; expected <recordId>_<SURNAMES, GIVEN NAMES>_<number>_<TYPE>.pdf",
		}
	}

	m := filenameRe.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, classifyFailure(trimmed)
	}

	surnames := strings.TrimSpace(m[2])
	givenNames := strings.TrimSpace(m[3])
	normalized := NormalizeName(givenNames + " " + surnames)
	if normalized == "" {
		return nil, &ParseError{
			Filename:   trimmed,
			Reason:     ReasonUnrecognizedStructure,
			Suggestion: "name segment is empty after normalization; check the surnames and given names",
		}
	}

	return &PatientIdentity{
		ExternalRecordID:      m[1],
		FullName:              normalized,
		RawSurnames:           surnames,
		RawGivenNames:         givenNames,
		SecondaryRecordNumber: m[4],
		DocumentType:          DocumentTypeFromCode(m[5]),
		SourceFilename:        trimmed,
	}, nil
}

// classifyFailure inspects a filename that failed the structural match and
// produces the most specific reason it can, with a suggestion phrased for the
// admin who will fix the file by hand.
func classifyFailure(filename string) *ParseError {
	if !recognisedExtRe.MatchString(filename) {
		return &ParseError{
			Filename:   filename,
			Reason:     ReasonBadExtension,
			Suggestion: "unrecognized file extension; expected .pdf, .doc, .docx or .txt",
		}
	}

	base := strings.TrimSuffix(filename, filenameExt(filename))
	segments := strings.Split(base, "_")
	hasComma := strings.Contains(base, ",")
	leadingID := len(segments) > 1 && isDigits(segments[0])

	// A single wrong element gets a precise reason; when both the record id
	// and the comma are missing the whole structure is unrecognisable.
	switch {
	case leadingID && !hasComma:
		return &ParseError{
			Filename:   filename,
			Reason:     ReasonMissingComma,
			Suggestion: "no comma found separating surnames from given names; expected <SURNAMES, GIVEN NAMES>",
		}
	case !leadingID && hasComma:
		return &ParseError{
			Filename:   filename,
			Reason:     ReasonInvalidID,
			Suggestion: fmt.Sprintf("leading segment %q is not a numeric record id", segments[0]),
		}
	}

	return &ParseError{
		Filename:   filename,
		Reason:     ReasonUnrecognizedStructure,
		Suggestion: "expected <recordId>_<SURNAMES, GIVEN NAMES>_<number>_<TYPE>.pdf",
	}
}

func filenameExt(filename string) string {
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		return filename[i:]
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseBatch parses every filename and returns the per-filename result.  The
// work is a pure fan-out with no shared state; concurrency is bounded only to
// avoid spawning a goroutine per file in very large batches.
func ParseBatch(filenames []string) map[string]ParseResult {
	const maxWorkers = 16

	results := make(map[string]ParseResult, len(filenames))
	if len(filenames) == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, maxWorkers)
	for _, name := range filenames {
		wg.Add(1)
		sem <- struct{}{}
		go func(fn string) {
			defer wg.Done()
			defer func() { <-sem }()
			id, perr := Parse(fn)
			mu.Lock()
			results[fn] = ParseResult{Identity: id, Err: perr}
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return results
}

// FormatFilename renders an identity back into the institutional filename
// convention.  Used by tooling and by the parsing round-trip tests.
func FormatFilename(id *PatientIdentity, typeCode, ext string) string {
	if id.SecondaryRecordNumber != "" {
		return fmt.Sprintf("%s_%s, %s_%s_%s.%s",
			id.ExternalRecordID, id.RawSurnames, id.RawGivenNames,
			id.SecondaryRecordNumber, typeCode, ext)
	}
	return fmt.Sprintf("%s_%s, %s_%s.%s",
		id.ExternalRecordID, id.RawSurnames, id.RawGivenNames, typeCode, ext)
}
