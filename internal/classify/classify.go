// Package classify 将单个请求映射为四种缓存策略之一。分类只依赖请求本身与站点规则，
// 不读取缓存内容，因此可以脱离存储独立测试。
package classify

import (
	"net/http"
	"net/url"
	"strings"
)

// Class 是请求的处理策略。
type Class int

const (
	// Bypass 表示不介入：非 GET 或跨源请求原样透传。
	Bypass Class = iota
	// Navigation 表示顶层文档加载：优先回源，离线时回退到 hub 文档。
	Navigation
	// CacheFirst 优先命中缓存，未命中再回源并写入。
	CacheFirst
	// NetworkFirst 优先回源并顺带写缓存，失败时回退到缓存副本。
	NetworkFirst
)

// String 输出日志与指标使用的短名称。
func (c Class) String() string {
	switch c {
	case Bypass:
		return "bypass"
	case Navigation:
		return "navigation"
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	default:
		return "unknown"
	}
}

// ModeNavigate 对应浏览器 Sec-Fetch-Mode: navigate。
const ModeNavigate = "navigate"

// Request 是分类所需的最小请求视图。
type Request struct {
	Method string
	URL    *url.URL
	Mode   string
}

// IsNavigation 报告请求是否为顶层文档加载。
func (r Request) IsNavigation() bool {
	return strings.EqualFold(r.Mode, ModeNavigate)
}

// Rules 描述站点级的路由前缀与扩展名，全部来自配置。
type Rules struct {
	Origin       *url.URL
	AppPrefix    string
	StaticPrefix string
	Extensions   []string
}

// Classify 按优先级判定请求类别：导航 → 透传 → 缓存优先 → 网络优先。
func Classify(rules Rules, req Request) Class {
	if req.IsNavigation() {
		return Navigation
	}
	if !strings.EqualFold(req.Method, http.MethodGet) || !SameOrigin(rules.Origin, req.URL) {
		return Bypass
	}

	p := req.URL.EscapedPath()
	if p == "" {
		p = "/"
	}
	if hasPrefix(p, rules.AppPrefix) || hasPrefix(p, rules.StaticPrefix) {
		return CacheFirst
	}
	lower := strings.ToLower(p)
	for _, ext := range rules.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && strings.HasSuffix(lower, ext) {
			return CacheFirst
		}
	}
	return NetworkFirst
}

// SameOrigin 比较 scheme、host 与端口（缺省端口按 scheme 补齐）。
func SameOrigin(origin, target *url.URL) bool {
	if origin == nil || target == nil {
		return false
	}
	if !strings.EqualFold(origin.Scheme, target.Scheme) {
		return false
	}
	if !strings.EqualFold(origin.Hostname(), target.Hostname()) {
		return false
	}
	return effectivePort(origin) == effectivePort(target)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); port != "" {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

func hasPrefix(p, prefix string) bool {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(p, prefix)
}

// ModeFromHeaders 推导请求模式：优先采用 Sec-Fetch-Mode；缺失时，
// Accept 首选 text/html 的 GET 视为导航。
func ModeFromHeaders(method, secFetchMode, accept string) string {
	if mode := strings.ToLower(strings.TrimSpace(secFetchMode)); mode != "" {
		return mode
	}
	if !strings.EqualFold(method, http.MethodGet) {
		return ""
	}
	first := accept
	if idx := strings.IndexByte(first, ','); idx >= 0 {
		first = first[:idx]
	}
	if idx := strings.IndexByte(first, ';'); idx >= 0 {
		first = first[:idx]
	}
	if strings.EqualFold(strings.TrimSpace(first), "text/html") {
		return ModeNavigate
	}
	return ""
}
