package server

import (
	"testing"

	"github.com/any-hub/offline-hub/internal/config"
)

func testSite(name, domain string) config.SiteConfig {
	return config.SiteConfig{
		Name:                 name,
		Domain:               domain,
		Origin:               "https://" + name + ".example.com",
		Generation:           "v1",
		HubDocument:          "/index.html",
		CoreShell:            []string{"/", "/index.html"},
		AppPrefix:            "/apps/",
		StaticPrefix:         "/assets/",
		CacheFirstExtensions: []string{".css", ".js"},
	}
}

func TestSiteRegistryLookupByHost(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites: []config.SiteConfig{
			testSite("lab", "lab.local"),
			testSite("docs", "docs.local"),
		},
	}

	registry, err := NewSiteRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("LAB.local.")
	if !ok {
		t.Fatalf("expected lab route")
	}
	if route.Config.Name != "lab" {
		t.Errorf("wrong site returned: %s", route.Config.Name)
	}
	if route.Origin.String() != "https://lab.example.com" {
		t.Errorf("unexpected origin URL: %s", route.Origin)
	}
	if route.Rules.Origin != route.Origin {
		t.Errorf("classifier rules should share the parsed origin")
	}
	if route.ListenPort != cfg.Global.ListenPort {
		t.Fatalf("route listen port mismatch: %d", route.ListenPort)
	}
	if route.Active() != nil || route.Generation() != "" {
		t.Fatalf("no generation should be serving before deploy")
	}

	if byName, ok := registry.Site("docs"); !ok || byName.Config.Domain != "docs.local" {
		t.Fatalf("lookup by name failed")
	}
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes in list, got %d", got)
	}
}

func TestSiteRegistryParsesHostHeaderPort(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites:  []config.SiteConfig{testSite("lab", "lab.local")},
	}

	registry, err := NewSiteRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("lab.local:6000")
	if !ok {
		t.Fatalf("expected lookup to ignore host header port")
	}
	if !route.MatchesDomain("lab.local:5000") || route.MatchesDomain("cdn.example") {
		t.Fatalf("MatchesDomain mismatch")
	}
}

func TestSiteRegistryRejectsDuplicateDomains(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites: []config.SiteConfig{
			testSite("lab", "lab.local"),
			testSite("lab-alt", "lab.local"),
		},
	}

	if _, err := NewSiteRegistry(cfg); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
}
