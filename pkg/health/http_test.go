package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		delay   time.Duration
		checker func(url string) *HTTPChecker
		healthy bool
	}{
		{"ui up", http.StatusOK, 0, NewHTTPChecker, true},
		{"redirect to login", http.StatusFound, 0, NewHTTPChecker, true},
		{"server error", http.StatusInternalServerError, 0, NewHTTPChecker, false},
		{"narrow range", http.StatusFound, 0, func(url string) *HTTPChecker {
			return NewHTTPChecker(url).WithStatusRange(200, 299)
		}, false},
		{"slow ui", http.StatusOK, 200 * time.Millisecond, func(url string) *HTTPChecker {
			return NewHTTPChecker(url).WithTimeout(50 * time.Millisecond)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(tt.delay)
				w.Header().Set("Location", "/login")
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			checker := tt.checker(server.URL)
			checker.Client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

			result := checker.Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
			assert.Positive(t, result.Duration)
		})
	}
}

func TestHTTPCheckerCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewHTTPChecker(server.URL).Check(ctx)
	assert.False(t, result.Healthy)
	assert.Equal(t, CheckTypeHTTP, NewHTTPChecker(server.URL).Type())
}
