package proxy

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/cacheerr"
	"github.com/any-hub/offline-hub/internal/classify"
	"github.com/any-hub/offline-hub/internal/metrics"
)

// Source 标记响应来自源站、缓存命中还是离线兜底。
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Result 是一次拦截的结果。Intervened 为 false 时调用方应原样透传请求。
type Result struct {
	Response   *cache.Response
	Class      classify.Class
	Source     Source
	Intervened bool
}

// Interceptor 针对单个站点的当前 generation 执行缓存策略，不依赖 HTTP 框架。
type Interceptor struct {
	Site    string
	Bucket  *cache.Bucket
	Fetcher Fetcher
	Rules   classify.Rules
	// HubDocument 是导航离线时返回的 hub 文档绝对 URL。
	HubDocument string
	Logger      *logrus.Logger
	Metrics     *metrics.Recorder
}

// conditionalHeaders 在需要写缓存的请求上移除，避免拿到无法缓存的 304。
var conditionalHeaders = []string{"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since"}

// Intercept 分类并执行对应策略。除 Bypass 外，返回的 Response 归调用方所有。
func (i *Interceptor) Intercept(ctx context.Context, req classify.Request, header http.Header, body []byte) (Result, error) {
	class := classify.Classify(i.Rules, req)
	result := Result{Class: class, Intervened: class != classify.Bypass}

	switch class {
	case classify.Bypass:
		return result, nil

	case classify.Navigation:
		resp, err := i.fetch(ctx, req, header, body, false)
		if err == nil {
			result.Response, result.Source = resp, SourceNetwork
			return result, nil
		}
		if !cacheerr.IsFetch(err) {
			return result, err
		}
		if doc, ok := i.match(ctx, cache.Key(http.MethodGet, i.HubDocument)); ok {
			i.Metrics.Fallback(i.Site, class.String())
			result.Response, result.Source = doc, SourceFallback
			return result, nil
		}
		return result, err

	case classify.CacheFirst:
		key := cache.Key(req.Method, req.URL.String())
		if cached, ok := i.match(ctx, key); ok {
			result.Response, result.Source = cached, SourceCache
			return result, nil
		}
		resp, err := i.fetch(ctx, req, header, body, true)
		if err != nil {
			return result, err
		}
		i.store(ctx, req, key, resp)
		result.Response, result.Source = resp, SourceNetwork
		return result, nil

	default:
		key := cache.Key(req.Method, req.URL.String())
		resp, err := i.fetch(ctx, req, header, body, true)
		if err == nil {
			i.store(ctx, req, key, resp)
			result.Response, result.Source = resp, SourceNetwork
			return result, nil
		}
		if !cacheerr.IsFetch(err) {
			return result, err
		}
		if cached, ok := i.match(ctx, key); ok {
			i.Metrics.Fallback(i.Site, class.String())
			result.Response, result.Source = cached, SourceFallback
			return result, nil
		}
		return result, err
	}
}

func (i *Interceptor) fetch(ctx context.Context, req classify.Request, header http.Header, body []byte, cacheable bool) (*cache.Response, error) {
	if i.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	outHeader := header.Clone()
	if outHeader == nil {
		outHeader = http.Header{}
	}
	if cacheable {
		for _, name := range conditionalHeaders {
			outHeader.Del(name)
		}
	}
	return i.Fetcher.Fetch(ctx, &OutboundRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: outHeader,
		Body:   body,
	})
}

// match 查找缓存；存储故障按未命中处理。
func (i *Interceptor) match(ctx context.Context, key string) (*cache.Response, bool) {
	if i.Bucket == nil {
		return nil, false
	}
	resp, err := i.Bucket.Match(ctx, key)
	switch {
	case err == nil:
		return resp, true
	case errors.Is(err, cache.ErrNotFound):
		return nil, false
	default:
		i.Metrics.StorageError(i.Site, "get")
		i.logger().WithError(err).WithFields(logrus.Fields{
			"action": "cache_get",
			"site":   i.Site,
		}).Warn("cache_get_failed")
		return nil, false
	}
}

// store 只写入同源、GET、完整 2xx 的响应；写入失败不影响返回。
func (i *Interceptor) store(ctx context.Context, req classify.Request, key string, resp *cache.Response) {
	if i.Bucket == nil || !isCacheable(req, resp, i.Rules) {
		return
	}
	stored := resp.Clone()
	stored.Header.Del("Set-Cookie")
	started := time.Now()
	if err := i.Bucket.Put(ctx, key, stored); err != nil {
		i.Metrics.StorageError(i.Site, "put")
		i.logger().WithError(err).WithFields(logrus.Fields{
			"action":     "cache_put",
			"site":       i.Site,
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Warn("cache_put_failed")
	}
}

func isCacheable(req classify.Request, resp *cache.Response, rules classify.Rules) bool {
	if req.Method != http.MethodGet || !resp.OK() || resp.Status == http.StatusPartialContent {
		return false
	}
	return classify.SameOrigin(rules.Origin, req.URL)
}

func (i *Interceptor) logger() *logrus.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return logrus.StandardLogger()
}
