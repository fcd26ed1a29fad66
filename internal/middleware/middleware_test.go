package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func brotliEngine(body string) *gin.Engine {
	r := gin.New()
	r.Use(Brotli())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, body)
	})
	return r
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	body := strings.Repeat("soal ujian ", 500)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	w := httptest.NewRecorder()
	brotliEngine(body).ServeHTTP(w, req)

	if got := w.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("Content-Encoding = %q, want br", got)
	}
	plain, err := io.ReadAll(brotli.NewReader(w.Body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(plain) != body {
		t.Errorf("round trip lost data: %d bytes, want %d", len(plain), len(body))
	}
}

func TestBrotliLeavesSmallBodiesPlain(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "br")
	w := httptest.NewRecorder()
	brotliEngine("ok").ServeHTTP(w, req)

	if got := w.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want none", got)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestBrotliSkippedWithoutAcceptEncoding(t *testing.T) {
	body := strings.Repeat("x", 4096)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	brotliEngine(body).ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "" || w.Body.Len() != len(body) {
		t.Errorf("unexpected encoding for client without br support")
	}
}

func TestRateLimiterAllow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(ctx, 2, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests rejected")
	}
	if rl.Allow("a") {
		t.Error("third request within interval allowed")
	}
	if !rl.Allow("b") {
		t.Error("other key shares the bucket")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("a") {
		t.Error("bucket not refilled after interval")
	}

	now = now.Add(4 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	left := len(rl.visitors)
	rl.mu.Unlock()
	if left != 0 {
		t.Errorf("visitors after cleanup = %d, want 0", left)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.POST("/login", NewRateLimiter(ctx, 1, time.Hour).Middleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [204 429]", codes)
	}
}
