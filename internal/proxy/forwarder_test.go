package proxy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/server"
)

func TestForwarderMissingHandler(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()

	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().Header.Set("X-Request-ID", "missing-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(nil, logger)

	if err := forwarder.Handle(ctx, testRoute()); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for missing handler, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "proxy_handler_missing") {
		t.Fatalf("expected error body to mention proxy_handler_missing, got %s", body)
	}
	if !strings.Contains(logBuf.String(), "proxy_handler_missing") {
		t.Fatalf("expected log to mention proxy_handler_missing, got %s", logBuf.String())
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "missing-req" {
		t.Fatalf("expected request id header missing-req, got %s", got)
	}
}

func TestForwarderHandlerPanic(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Request().Header.Set("X-Request-ID", "panic-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	forwarder := NewForwarder(server.ProxyHandlerFunc(func(c fiber.Ctx, _ *server.SiteRoute) error {
		_, _ = c.Write([]byte("partial"))
		panic("boom")
	}), logger)

	if err := forwarder.Handle(ctx, testRoute()); err != nil {
		t.Fatalf("forwarder.Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	body := string(ctx.Response().Body())
	if !strings.Contains(body, "proxy_handler_panic") || strings.Contains(body, "partial") {
		t.Fatalf("unexpected panic body: %s", body)
	}
	if !strings.Contains(logBuf.String(), "panic-req") || !strings.Contains(logBuf.String(), "lab") {
		t.Fatalf("expected log to include request id and site, got %s", logBuf.String())
	}
}

func TestForwarderDelegates(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)

	var seen *server.SiteRoute
	route := testRoute()
	forwarder := NewForwarder(server.ProxyHandlerFunc(func(c fiber.Ctx, r *server.SiteRoute) error {
		seen = r
		return c.SendStatus(fiber.StatusNoContent)
	}), logrus.New())

	if err := forwarder.Handle(ctx, route); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != route {
		t.Fatalf("handler did not receive the route")
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", status)
	}
}

func testRoute() *server.SiteRoute {
	return &server.SiteRoute{
		Config: config.SiteConfig{
			Name:   "lab",
			Domain: "lab.local",
		},
	}
}
