package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/cacheerr"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/lifecycle"
)

// switchableOrigin 模拟源站，可整体切换为离线。
type switchableOrigin struct {
	mu      sync.Mutex
	offline bool
	version string
}

func (o *switchableOrigin) set(offline bool, version string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offline = offline
	o.version = version
}

func (o *switchableOrigin) fetch(_ context.Context, target string) (*cache.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.offline {
		return nil, cacheerr.Fetch(errors.New("connection refused"), target)
	}
	return &cache.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte(o.version + ":" + target)}, nil
}

func newTestDeployer(t *testing.T, sites ...config.SiteConfig) (*Deployer, *SiteRegistry, cache.Store, *switchableOrigin) {
	t.Helper()
	registry, err := NewSiteRegistry(&config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Sites:  sites,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	origin := &switchableOrigin{version: "v1"}
	deployer, err := NewDeployer(registry, DeployerOptions{
		Store:           store,
		Fetch:           origin.fetch,
		SeedConcurrency: 2,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("deployer: %v", err)
	}
	return deployer, registry, store, origin
}

func TestDeploySwapsOnlyAfterSuccessfulInstall(t *testing.T) {
	deployer, registry, store, origin := newTestDeployer(t, testSite("lab", "lab.local"))
	ctx := context.Background()
	route, _ := registry.Site("lab")

	first, _, err := deployer.Deploy(ctx, "lab", "v1")
	if err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	if route.Active() != first || first.Phase() != lifecycle.PhaseActive {
		t.Fatalf("v1 should be serving and active")
	}

	origin.set(true, "v2")
	if _, _, err := deployer.Deploy(ctx, "lab", "v2"); err == nil {
		t.Fatalf("expected v2 install to fail while origin offline")
	}
	if route.Generation() != "v1" {
		t.Fatalf("failed install must keep v1 serving, got %q", route.Generation())
	}

	origin.set(false, "v2")
	second, _, err := deployer.Deploy(ctx, "lab", "v2")
	if err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	if route.Active() != second {
		t.Fatalf("v2 should be serving")
	}
	gens, err := store.Generations(ctx, "lab")
	if err != nil {
		t.Fatalf("generations: %v", err)
	}
	if len(gens) != 1 || gens[0] != "v2" {
		t.Fatalf("expected only v2 bucket, got %v", gens)
	}
}

func TestDeploySameGenerationIsNoop(t *testing.T) {
	deployer, _, _, _ := newTestDeployer(t, testSite("lab", "lab.local"))
	ctx := context.Background()

	first, _, err := deployer.Deploy(ctx, "lab", "v1")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	again, _, err := deployer.Deploy(ctx, "lab", "v1")
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if again != first {
		t.Fatalf("redeploying the serving generation should return the current controller")
	}
}

func TestDeployUnknownSite(t *testing.T) {
	deployer, _, _, _ := newTestDeployer(t, testSite("lab", "lab.local"))
	if _, _, err := deployer.Deploy(context.Background(), "nope", "v1"); !errors.Is(err, ErrUnknownSite) {
		t.Fatalf("expected ErrUnknownSite, got %v", err)
	}
}

func TestDeployConfiguredLeavesFailedSitesInPassThrough(t *testing.T) {
	lab := testSite("lab", "lab.local")
	plain := testSite("plain", "plain.local")
	plain.Generation = ""
	deployer, registry, _, origin := newTestDeployer(t, lab, plain)

	origin.set(true, "v1")
	err := deployer.DeployConfigured(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated error for lab")
	}
	for _, name := range []string{"lab", "plain"} {
		route, _ := registry.Site(name)
		if route.Active() != nil {
			t.Fatalf("site %s should be in pass-through mode", name)
		}
	}

	origin.set(false, "v1")
	if err := deployer.DeployConfigured(context.Background()); err != nil {
		t.Fatalf("deploy configured: %v", err)
	}
	route, _ := registry.Site("lab")
	if route.Generation() != "v1" {
		t.Fatalf("lab should serve v1, got %q", route.Generation())
	}
}
