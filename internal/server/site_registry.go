package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/any-hub/offline-hub/internal/classify"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/lifecycle"
)

// SiteRoute 将站点配置与派生属性（解析后的源站、分类规则、当前 generation）
// 聚合在一起，供路由/代理层直接复用，避免重复解析配置。
type SiteRoute struct {
	// Config 是用户在 config.toml 中声明的站点字段副本，避免外部修改。
	Config config.SiteConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
	// Origin 在构造 Registry 时提前解析完成。
	Origin *url.URL
	// Rules 是该站点的请求分类规则。
	Rules classify.Rules

	active atomic.Pointer[lifecycle.Controller]
}

// Active 返回当前对外服务的 generation 控制器；nil 表示站点处于纯透传模式。
func (r *SiteRoute) Active() *lifecycle.Controller {
	if r == nil {
		return nil
	}
	return r.active.Load()
}

// Generation 返回当前服务中的 generation 名称，没有时为空串。
func (r *SiteRoute) Generation() string {
	if ctrl := r.Active(); ctrl != nil {
		return ctrl.Generation()
	}
	return ""
}

func (r *SiteRoute) swapActive(next *lifecycle.Controller) *lifecycle.Controller {
	return r.active.Swap(next)
}

// SiteRegistry 提供 Host/Host:port 到 SiteRoute 的查询能力，所有站点共享同一个监听端口。
type SiteRegistry struct {
	routes  map[string]*SiteRoute
	byName  map[string]*SiteRoute
	ordered []*SiteRoute
}

// NewSiteRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewSiteRegistry(cfg *config.Config) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &SiteRegistry{
		routes: make(map[string]*SiteRoute, len(cfg.Sites)),
		byName: make(map[string]*SiteRoute, len(cfg.Sites)),
	}

	for _, site := range cfg.Sites {
		normalizedHost := normalizeDomain(site.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for site %s", site.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}
		if _, exists := registry.byName[site.Name]; exists {
			return nil, fmt.Errorf("duplicate site name %s", site.Name)
		}

		runtime, err := config.BuildSiteRuntime(site)
		if err != nil {
			return nil, err
		}
		route := &SiteRoute{
			Config:     runtime.Config,
			ListenPort: cfg.Global.ListenPort,
			Origin:     runtime.Origin,
			Rules:      runtime.Rules,
		}

		registry.routes[normalizedHost] = route
		registry.byName[site.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 SiteRoute。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Site 按站点名查找。
func (r *SiteRegistry) Site(name string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.byName[name]
	return route, ok
}

// List 返回当前注册的 SiteRoute（按配置定义的顺序），用于 /-/status 输出。
func (r *SiteRegistry) List() []*SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*SiteRoute(nil), r.ordered...)
}

// MatchesDomain 判断 host 是否就是该站点对外的域名（忽略端口与大小写）。
func (r *SiteRoute) MatchesDomain(host string) bool {
	normalized, _ := normalizeHost(host)
	return normalized != "" && normalized == normalizeDomain(r.Config.Domain)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
