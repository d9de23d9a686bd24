package classify

import (
	"net/http"
	"net/url"
	"testing"
)

func testRules(t *testing.T) Rules {
	t.Helper()
	origin, err := url.Parse("https://lab.example")
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}
	return Rules{
		Origin:       origin,
		AppPrefix:    "/apps/",
		StaticPrefix: "/assets/",
		Extensions:   []string{".css", ".js"},
	}
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func TestClassifyPriority(t *testing.T) {
	rules := testRules(t)
	testCases := []struct {
		name   string
		method string
		url    string
		mode   string
		want   Class
	}{
		{"navigation wins over cross origin", http.MethodGet, "https://other.example/", ModeNavigate, Navigation},
		{"navigation post", http.MethodPost, "https://lab.example/form", ModeNavigate, Navigation},
		{"non get bypass", http.MethodPost, "https://lab.example/apps/x", "", Bypass},
		{"cross origin bypass", http.MethodGet, "https://cdn.example/assets/site.css", "", Bypass},
		{"port mismatch bypass", http.MethodGet, "https://lab.example:8443/apps/x", "", Bypass},
		{"scheme mismatch bypass", http.MethodGet, "http://lab.example/apps/x", "", Bypass},
		{"app prefix", http.MethodGet, "https://lab.example/apps/tennis/index.html", "", CacheFirst},
		{"static prefix", http.MethodGet, "https://lab.example/assets/logo.png", "", CacheFirst},
		{"css suffix", http.MethodGet, "https://lab.example/theme/dark.CSS", "", CacheFirst},
		{"js suffix", http.MethodGet, "https://lab.example/vendor/lib.js?v=3", "", CacheFirst},
		{"explicit default port", http.MethodGet, "https://lab.example:443/api/data.json", "", NetworkFirst},
		{"everything else", http.MethodGet, "https://lab.example/api/data.json", "", NetworkFirst},
		{"root", http.MethodGet, "https://lab.example", "", NetworkFirst},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(rules, Request{Method: tc.method, URL: mustURL(t, tc.url), Mode: tc.mode})
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	rules := testRules(t)
	req := Request{Method: http.MethodGet, URL: mustURL(t, "https://lab.example/apps/a.js")}
	first := Classify(rules, req)
	for i := 0; i < 100; i++ {
		if got := Classify(rules, req); got != first {
			t.Fatalf("classification changed on iteration %d: %s != %s", i, got, first)
		}
	}
}

func TestClassifyWithoutPrefixesFallsBackToNetworkFirst(t *testing.T) {
	rules := Rules{Origin: mustURL(t, "http://127.0.0.1:8080")}
	got := Classify(rules, Request{Method: http.MethodGet, URL: mustURL(t, "http://127.0.0.1:8080/apps/x")})
	if got != NetworkFirst {
		t.Fatalf("empty prefixes must not match, got %s", got)
	}
	if Classify(Rules{}, Request{Method: http.MethodGet, URL: mustURL(t, "http://a/b")}) != Bypass {
		t.Fatalf("missing origin should never be treated as same-origin")
	}
}

func TestClassString(t *testing.T) {
	if CacheFirst.String() != "cache-first" || Class(42).String() != "unknown" {
		t.Fatalf("unexpected class names")
	}
}

func TestModeFromHeaders(t *testing.T) {
	cases := []struct {
		name   string
		method string
		mode   string
		accept string
		want   string
	}{
		{"explicit navigate", "GET", "navigate", "", ModeNavigate},
		{"explicit cors wins over accept", "GET", "cors", "text/html", "cors"},
		{"browser accept", "GET", "", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8", ModeNavigate},
		{"html with params", "GET", "", "text/html; charset=utf-8", ModeNavigate},
		{"html not preferred", "GET", "", "application/json, text/html", ""},
		{"post form", "POST", "", "text/html", ""},
		{"no headers", "GET", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ModeFromHeaders(tc.method, tc.mode, tc.accept); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
