// Package extraction is the HTTP client for the external bytes-to-text
// extraction service.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
)

// Client calls the extraction service.  Timeouts and retries are owned by
// the pipeline's worker policy, not the client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logging.Logger
}

// NewClient constructs the extraction client.
func NewClient(cfg config.ExtractionConfig, log logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  log,
	}
}

type extractResponse struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

type extractErrorResponse struct {
	Error string `json:"error"`
}

// ExtractText submits file bytes and returns the extracted plain text.
// Failures surface as PROC_001 and are retryable under the worker policy.
func (c *Client) ExtractText(ctx context.Context, data []byte, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProcExtraction, "failed to build upload body")
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProcExtraction, "failed to build upload body")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProcExtraction, "failed to build upload body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", &body)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProcExtraction, "failed to build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProcExtraction, "extraction service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProcExtraction, "failed to read extraction response")
	}
	if resp.StatusCode != http.StatusOK {
		var errBody extractErrorResponse
		detail := fmt.Sprintf("status %d", resp.StatusCode)
		if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
			detail = fmt.Sprintf("status %d: %s", resp.StatusCode, errBody.Error)
		}
		return "", errors.New(errors.ErrCodeProcExtraction, "extraction failed").WithDetail(detail)
	}

	var parsed extractResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeProcExtraction, "undecodable extraction response")
	}
	return parsed.Text, nil
}
