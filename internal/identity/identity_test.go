package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSanitizeTabID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"tab-1", "tab-1"},
		{"  a.b:c_d  ", "a.b:c_d"},
		{"", DefaultTabIDValue},
		{"bad id", DefaultTabIDValue},
		{"<script>", DefaultTabIDValue},
		{strings.Repeat("x", 129), DefaultTabIDValue},
	}
	for _, tt := range tests {
		if got := SanitizeTabID(tt.in); got != tt.want {
			t.Fatalf("SanitizeTabID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMiddlewarePrefersHeader(t *testing.T) {
	t.Parallel()

	var got string
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = TabIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/auth?tab_id=from-query", nil)
	req.Header.Set(TabHeaderName, "from-header")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "from-header" {
		t.Fatalf("expected from-header, got %s", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws/auth?tab_id=from-query", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "from-query" {
		t.Fatalf("expected from-query, got %s", got)
	}
}
