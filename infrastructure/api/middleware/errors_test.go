package middleware

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	logger := log.NewLoggerWithWriter(io.Discard, config.LogFormatJSON, "ERROR")
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fault.New(fault.KindEmptyQuery, "empty"), 400, "EMPTY_QUERY"},
		{fault.New(fault.KindNotFound, "missing"), 404, "NOT_FOUND"},
		{fault.New(fault.KindEmbedUnavailable, "down"), 503, "EMBED_UNAVAILABLE"},
		{fault.New(fault.KindVectorUnavail, "down"), 503, "VECTOR_UNAVAILABLE"},
		{fault.New(fault.KindCancelled, "deadline"), 408, "CANCELLED"},
		{errors.New("boom"), 500, "INTERNAL"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/search", nil)
		WriteError(rec, req, tc.err, logger)
		assert.Equal(t, tc.status, rec.Code, tc.kind)
		assert.Contains(t, rec.Body.String(), tc.kind)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 201, map[string]string{"a": "b"})
	assert.Equal(t, 201, rec.Code)
	assert.JSONEq(t, `{"a":"b"}`, rec.Body.String())
}
