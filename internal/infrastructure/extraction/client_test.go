package extraction

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ExtractionConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, logging.NewNop())
}

func TestExtractTextSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/extract", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "10_GARZA, MARIA_CONS.pdf", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"nota de consulta","pages":1}`))
	})

	text, err := c.ExtractText(context.Background(), []byte("%PDF-1.4"), "10_GARZA, MARIA_CONS.pdf")
	require.NoError(t, err)
	assert.Equal(t, "nota de consulta", text)
}

func TestExtractTextServiceError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"unsupported format"}`))
	})

	_, err := c.ExtractText(context.Background(), []byte("junk"), "x.pdf")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProcExtraction))
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestExtractTextUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(config.ExtractionConfig{BaseURL: srv.URL, Timeout: time.Second}, logging.NewNop())

	_, err := c.ExtractText(context.Background(), []byte("data"), "x.pdf")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProcExtraction))
	assert.True(t, errors.IsRetryable(err))
}

func TestExtractTextContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background connection
		// read; without it the request context is never cancelled on
		// client disconnect and srv.Close deadlocks in cleanup.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ExtractText(ctx, []byte("data"), "x.pdf")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProcExtraction))
}
