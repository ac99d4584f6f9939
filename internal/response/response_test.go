package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestNewPagination(t *testing.T) {
	tests := []struct {
		perPage, total, pages int
	}{
		{20, 41, 3},
		{20, 40, 2},
		{20, 0, 0},
		{0, 5, 0},
	}
	for _, tt := range tests {
		if got := NewPagination(1, tt.perPage, tt.total).TotalPages; got != tt.pages {
			t.Errorf("NewPagination(1, %d, %d).TotalPages = %d, want %d", tt.perPage, tt.total, got, tt.pages)
		}
	}
}

func TestAbortFailUsesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(zerolog.Nop()))
	r.GET("/", func(c *gin.Context) {
		AbortFail(c, http.StatusTooManyRequests, ErrRateLimitExceeded)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("X-Request-ID header = %q", rec.Header().Get("X-Request-ID"))
	}

	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error == nil || body.Error.Code != ErrRateLimitExceeded || body.Error.Message == "" {
		t.Errorf("error = %+v", body.Error)
	}
	if body.Metadata.RequestID != "req-123" {
		t.Errorf("request id = %q", body.Metadata.RequestID)
	}
}
