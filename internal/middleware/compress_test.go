package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func compressEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Compress(64))
	r.GET("/big", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("soal ", 100))
	})
	r.GET("/small", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/monitor/stream", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("x", 200))
	})
	return r
}

func TestCompress(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		encoding string
		wantBr   bool
	}{
		{"large body", "/big", "gzip, br", true},
		{"quality param", "/big", "br;q=1.0", true},
		{"client without br", "/big", "gzip", false},
		{"below threshold", "/small", "br", false},
		{"stream route", "/monitor/stream", "br", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Accept-Encoding", tc.encoding)
			w := httptest.NewRecorder()
			compressEngine().ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			gotBr := w.Header().Get("Content-Encoding") == "br"
			if gotBr != tc.wantBr {
				t.Fatalf("Content-Encoding = %q, want br=%v", w.Header().Get("Content-Encoding"), tc.wantBr)
			}
			if !gotBr {
				return
			}
			plain, err := io.ReadAll(brotli.NewReader(w.Body))
			if err != nil {
				t.Fatal(err)
			}
			if string(plain) != strings.Repeat("soal ", 100) {
				t.Errorf("decoded body mismatch: %q", plain)
			}
		})
	}
}

func TestCompressKeepsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Compress(8))
	r.GET("/missing", func(c *gin.Context) {
		c.String(http.StatusNotFound, strings.Repeat("tidak ada ", 10))
	})

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set("Accept-Encoding", "br")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "br" {
		t.Errorf("expected compressed error body")
	}
}
