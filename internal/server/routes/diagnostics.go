package routes

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/keyauth"

	"github.com/any-hub/offline-hub/internal/cacheerr"
	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/server"
)

// Options 汇总诊断接口依赖；Deployer 或 Metrics 为空时对应接口不注册。
// AdminToken 为空时 generation 切换接口对所有请求返回 403。
type Options struct {
	Registry   *server.SiteRegistry
	Deployer   *server.Deployer
	Metrics    *metrics.Recorder
	AdminToken string
}

// Register 暴露 /-/ 诊断接口：站点状态、Prometheus 指标与 generation 切换。
func Register(app *fiber.App, opts Options) {
	if app == nil || opts.Registry == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"sites": encodeSites(opts.Registry.List())})
	})

	if opts.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	if opts.Deployer != nil {
		app.Post("/-/sites/:name/generations", requireAdmin(opts.AdminToken), deployHandler(opts.Deployer))
	}
}

type deployRequest struct {
	Generation string `json:"generation"`
}

type sitePayload struct {
	Name           string         `json:"name"`
	Domain         string         `json:"domain"`
	Origin         string         `json:"origin"`
	ConfiguredMode string         `json:"configured_mode"`
	Serving        bool           `json:"serving"`
	Generation     string         `json:"generation,omitempty"`
	Phase          string         `json:"phase,omitempty"`
	Driver         string         `json:"driver,omitempty"`
	Report         *reportPayload `json:"report,omitempty"`
}

type reportPayload struct {
	Core        int      `json:"core"`
	Listing     int      `json:"listing"`
	Failed      []string `json:"failed,omitempty"`
	ManifestErr string   `json:"manifest_error,omitempty"`
	Reused      bool     `json:"reused,omitempty"`
	ElapsedMs   int64    `json:"elapsed_ms"`
}

// requireAdmin 校验 Authorization: Bearer <AdminToken>；未配置令牌时切换接口整体关闭。
func requireAdmin(token string) fiber.Handler {
	if token == "" {
		return func(c fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "deploy_disabled"})
		}
	}
	return keyauth.New(keyauth.Config{
		Realm: "offline-hub",
		Validator: func(_ fiber.Ctx, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(token)) != 1 {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			return true, nil
		},
		ErrorHandler: func(c fiber.Ctx, _ error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		},
	})
}

func deployHandler(deployer *server.Deployer) fiber.Handler {
	return func(c fiber.Ctx) error {
		var req deployRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		generation := strings.TrimSpace(req.Generation)
		if generation == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "generation_required"})
		}

		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctrl, report, err := deployer.Deploy(ctx, c.Params("name"), generation)
		switch {
		case errors.Is(err, server.ErrUnknownSite):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
		case err != nil:
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":  "install_failed",
				"detail": cacheerr.Response(err),
			})
		}
		return c.JSON(fiber.Map{
			"site":       ctrl.Site(),
			"generation": ctrl.Generation(),
			"phase":      ctrl.Phase().String(),
			"report":     encodeReport(report),
		})
	}
}

func encodeSites(routes []*server.SiteRoute) []sitePayload {
	result := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		item := sitePayload{
			Name:           route.Config.Name,
			Domain:         route.Config.Domain,
			Origin:         route.Config.Origin,
			ConfiguredMode: route.Config.OfflineMode(),
		}
		if ctrl := route.Active(); ctrl != nil {
			item.Serving = true
			item.Generation = ctrl.Generation()
			item.Phase = ctrl.Phase().String()
			item.Driver = ctrl.Driver()
			item.Report = encodeReport(ctrl.Report())
		}
		result = append(result, item)
	}
	return result
}

func encodeReport(report lifecycle.InstallReport) *reportPayload {
	payload := &reportPayload{
		Core:      len(report.Core),
		Listing:   len(report.Extra),
		Failed:    append([]string(nil), report.Failed...),
		Reused:    report.Reused,
		ElapsedMs: report.Elapsed.Milliseconds(),
	}
	if report.ManifestErr != nil {
		payload.ManifestErr = report.ManifestErr.Error()
	}
	return payload
}
