package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"absent", "", false},
		{"client token kept", "req-01HTX_abc.1", true},
		{"too long", strings.Repeat("a", 65), false},
		{"log injection", "abc\n{\"level\":\"ERROR\"}", false},
		{"spaces", "abc def", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("id = %q, want client value kept", seen)
			}
			if !tt.keep && seen == tt.incoming {
				t.Errorf("invalid client id %q was kept", tt.incoming)
			}
		})
	}
}
