package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/auth/refresh":              "/v1/auth/refresh",
		"/v1/insights/abc/ask":          "/v1/insights/:id/ask",
		"/v1/insights/abc/ask?debug=1":  "/v1/insights/:id/ask",
		"/v1/auth/session?verbose=true": "/v1/auth/session",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
