package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/lifecycle"
)

// ProxyHandler 负责处理已匹配到站点的请求，测试中可替换为假实现。
type ProxyHandler interface {
	Handle(fiber.Ctx, *SiteRoute) error
}

// ProxyHandlerFunc 将普通函数适配为 ProxyHandler。
type ProxyHandlerFunc func(fiber.Ctx, *SiteRoute) error

func (f ProxyHandlerFunc) Handle(c fiber.Ctx, route *SiteRoute) error {
	return f(c, route)
}

// AppOptions 描述单一监听端口上的 Fiber 应用。
type AppOptions struct {
	Logger     *logrus.Logger
	Registry   *SiteRegistry
	Proxy      ProxyHandler
	ListenPort int
}

const (
	// HeaderSite 回显命中的站点名。
	HeaderSite = "X-Offline-Hub-Site"
	// HeaderUnmappedHost 回显未映射的 Host。
	HeaderUnmappedHost = "X-Offline-Hub-Host"

	localsRequestState = "_offlinehub_request"
	maxRequestIDLen    = 128
)

// requestState 在请求进入时生成，之后整条链路只读。
type requestState struct {
	id      string
	route   *SiteRoute
	serving *lifecycle.Controller
}

// NewApp 构建按 Host 分发站点的 Fiber 应用；/-/ 前缀留给诊断接口。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Proxy == nil {
		return nil, errors.New("proxy handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  jsonErrorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(siteContext(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(c) {
			return c.Next()
		}
		state := stateOf(c)
		if state == nil || state.route == nil {
			return rejectUnmapped(c, opts.Logger, "", opts.ListenPort)
		}
		return opts.Proxy.Handle(c, state.route)
	})

	return app, nil
}

// siteContext 分配请求 ID 并按 Host 匹配站点，同时固定本次请求使用的 generation：
// 请求处理中途发生的 generation 切换不会影响已进入的请求。
func siteContext(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		id := inboundRequestID(c)
		if id == "" {
			id = uuid.NewString()
		}
		state := &requestState{id: id}
		c.Locals(localsRequestState, state)
		c.Set(fiber.HeaderXRequestID, state.id)

		if isDiagnosticsPath(c) {
			return c.Next()
		}

		host := strings.TrimSpace(hostHeader(c))
		route, ok := opts.Registry.Lookup(host)
		if !ok {
			return rejectUnmapped(c, opts.Logger, host, opts.ListenPort)
		}
		state.route = route
		state.serving = route.Active()
		c.Set(HeaderSite, route.Config.Name)
		return c.Next()
	}
}

func rejectUnmapped(c fiber.Ctx, logger *logrus.Logger, host string, port int) error {
	logger.WithFields(logrus.Fields{
		"action":     "host_lookup",
		"host":       host,
		"port":       port,
		"request_id": RequestID(c),
	}).Warn("host_unmapped")

	payload := fiber.Map{"error": "host_unmapped"}
	if host != "" {
		c.Set(HeaderUnmappedHost, host)
		payload["host"] = host
	}
	return c.Status(fiber.StatusNotFound).JSON(payload)
}

// jsonErrorHandler 让 Fiber 内部错误（404 路由、recover 捕获的 panic）也输出 JSON。
func jsonErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			if status == fiber.StatusNotFound {
				code = "not_found"
			}
		}
		if status >= fiber.StatusInternalServerError {
			logger.WithFields(logrus.Fields{
				"action":     "router",
				"path":       c.Path(),
				"request_id": RequestID(c),
			}).WithError(err).Error("request_failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

func hostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

func stateOf(c fiber.Ctx) *requestState {
	state, _ := c.Locals(localsRequestState).(*requestState)
	return state
}

// RequestID 返回路由中间件分配的请求 ID；未经过中间件时取入站 X-Request-ID。
func RequestID(c fiber.Ctx) string {
	if state := stateOf(c); state != nil {
		return state.id
	}
	return inboundRequestID(c)
}

// inboundRequestID 沿用前置负载均衡器传入的 X-Request-ID，超长或含控制字符时丢弃。
func inboundRequestID(c fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
	if raw == "" || len(raw) > maxRequestIDLen {
		return ""
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < 0x21 || raw[i] > 0x7e {
			return ""
		}
	}
	return raw
}

// ServingController 返回请求进入时站点正在服务的 generation 控制器；
// 未经过路由中间件的上下文退回到站点当前值。
func ServingController(c fiber.Ctx, route *SiteRoute) *lifecycle.Controller {
	if state := stateOf(c); state != nil && state.route == route {
		return state.serving
	}
	return route.Active()
}

func isDiagnosticsPath(c fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().URI().Path()), "/-/")
}
