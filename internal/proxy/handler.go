package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/classify"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/server"
)

// 响应头，标记分类、来源与服务中的 generation，便于排查离线行为。
const (
	HeaderClass      = "X-Offline-Hub-Class"
	HeaderSource     = "X-Offline-Hub-Source"
	HeaderGeneration = "X-Offline-Hub-Generation"
)

// Handler 是站点请求的 Fiber 入口：解析目标 URL、交给 Interceptor 执行缓存策略，
// 不介入的请求以流式方式原样透传。
type Handler struct {
	fetcher *HTTPFetcher
	logger  *logrus.Logger
	metrics *metrics.Recorder
}

// NewHandler constructs a proxy handler with shared fetcher/logger/metrics.
func NewHandler(fetcher *HTTPFetcher, logger *logrus.Logger, recorder *metrics.Recorder) *Handler {
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		fetcher: fetcher,
		logger:  logger,
		metrics: recorder,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target, foreign, err := resolveTarget(route, c)
	if err != nil {
		h.logResult(route, "", "", classify.Bypass, "", 0, requestID, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request_uri")
	}
	if foreign && !route.Config.PassThroughForeign {
		h.logResult(route, target.String(), "", classify.Bypass, "", fiber.StatusForbidden, requestID, started, nil)
		return h.writeError(c, fiber.StatusForbidden, "foreign_origin_blocked")
	}

	method := c.Method()
	header := fiberHeadersAsHTTP(c)
	addForwardedHeaders(header, c, route)
	body := append([]byte(nil), c.Body()...)
	req := classify.Request{
		Method: method,
		URL:    target,
		Mode:   classify.ModeFromHeaders(method, header.Get("Sec-Fetch-Mode"), header.Get("Accept")),
	}

	ctrl := server.ServingController(c, route)
	if ctrl == nil || ctrl.Bucket() == nil || foreign {
		return h.passThrough(ctx, c, route, req, classify.Bypass, "", header, body, requestID, started)
	}

	interceptor := &Interceptor{
		Site:        route.Config.Name,
		Bucket:      ctrl.Bucket(),
		Fetcher:     h.fetcher,
		Rules:       route.Rules,
		HubDocument: hubDocumentURL(route),
		Logger:      h.logger,
		Metrics:     h.metrics,
	}
	result, err := interceptor.Intercept(ctx, req, header, body)
	if err != nil {
		h.logResult(route, target.String(), ctrl.Generation(), result.Class, "", 0, requestID, started, err)
		h.metrics.ObserveRequest(route.Config.Name, result.Class.String(), "error", time.Since(started))
		return h.writeError(c, fiber.StatusBadGateway, "upstream_unreachable")
	}
	if !result.Intervened {
		return h.passThrough(ctx, c, route, req, result.Class, ctrl.Generation(), header, body, requestID, started)
	}

	h.writeResult(c, result, ctrl.Generation(), requestID)
	h.logResult(route, target.String(), ctrl.Generation(), result.Class, result.Source, result.Response.Status, requestID, started, nil)
	h.metrics.ObserveRequest(route.Config.Name, result.Class.String(), string(result.Source), time.Since(started))
	return nil
}

func (h *Handler) writeResult(c fiber.Ctx, result Result, generation, requestID string) {
	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderClass, result.Class.String())
	c.Set(HeaderSource, string(result.Source))
	c.Set(HeaderGeneration, generation)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	c.Response().SetBodyRaw(resp.Body)
}

// passThrough 直接转发请求并流式返回源站响应，不读写缓存。
func (h *Handler) passThrough(
	ctx context.Context,
	c fiber.Ctx,
	route *server.SiteRoute,
	req classify.Request,
	class classify.Class,
	generation string,
	header http.Header,
	body []byte,
	requestID string,
	started time.Time,
) error {
	target := req.URL.String()
	resp, err := h.fetcher.Stream(ctx, &OutboundRequest{
		Method: req.Method,
		URL:    target,
		Header: header,
		Body:   body,
	})
	if err != nil {
		h.logResult(route, target, generation, class, "", 0, requestID, started, err)
		h.metrics.ObserveRequest(route.Config.Name, class.String(), "error", time.Since(started))
		return h.writeError(c, fiber.StatusBadGateway, "upstream_unreachable")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderClass, class.String())
	c.Set(HeaderSource, string(SourceNetwork))
	if generation != "" {
		c.Set(HeaderGeneration, generation)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(route, target, generation, class, SourceNetwork, resp.StatusCode, requestID, started, nil)
		h.metrics.ObserveRequest(route.Config.Name, class.String(), string(SourceNetwork), time.Since(started))
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, target, generation, class, SourceNetwork, resp.StatusCode, requestID, started, err)
	h.metrics.ObserveRequest(route.Config.Name, class.String(), string(SourceNetwork), time.Since(started))
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SiteRoute,
	target string,
	generation string,
	class classify.Class,
	source Source,
	status int,
	requestID string,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		generation,
		class.String(),
		string(source),
	)
	fields["action"] = "proxy"
	fields["upstream"] = target
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// resolveTarget 把入站请求映射为源站绝对 URL。absolute-form 请求行中的主机
// 若不是站点域名，则视为跨源目标，foreign 为 true。
func resolveTarget(route *server.SiteRoute, c fiber.Ctx) (*url.URL, bool, error) {
	rawURI := string(c.Request().Header.RequestURI())
	lower := strings.ToLower(rawURI)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		parsed, err := url.Parse(rawURI)
		if err != nil {
			return nil, false, err
		}
		parsed.Fragment = ""
		if !route.MatchesDomain(parsed.Host) && !classify.SameOrigin(route.Origin, parsed) {
			return parsed, true, nil
		}
		return originURL(route, parsed.EscapedPath(), parsed.RawQuery), false, nil
	}

	uri := c.Request().URI()
	return originURL(route, string(uri.PathOriginal()), string(uri.QueryString())), false, nil
}

func originURL(route *server.SiteRoute, rawPath, rawQuery string) *url.URL {
	if idx := strings.IndexByte(rawPath, '?'); idx >= 0 {
		rawPath = rawPath[:idx]
	}
	if rawPath == "" || rawPath[0] != '/' {
		rawPath = "/" + rawPath
	}
	relative := &url.URL{RawQuery: rawQuery}
	if unescaped, err := url.PathUnescape(rawPath); err == nil {
		relative.Path = unescaped
		relative.RawPath = rawPath
	} else {
		relative.Path = rawPath
	}
	return route.Origin.ResolveReference(relative)
}

func hubDocumentURL(route *server.SiteRoute) string {
	return route.Origin.ResolveReference(&url.URL{Path: route.Config.HubDocument}).String()
}

func addForwardedHeaders(header http.Header, c fiber.Ctx, route *server.SiteRoute) {
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Scheme())
	header.Set("X-Forwarded-Port", routePort(route))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}

func routePort(route *server.SiteRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}

var (
	_ server.ProxyHandler = (*Handler)(nil)
	_ Fetcher             = (*HTTPFetcher)(nil)
)
