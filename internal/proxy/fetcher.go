package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/cacheerr"
	"github.com/any-hub/offline-hub/internal/server"
)

// OutboundRequest 是发往源站的请求描述，URL 必须是绝对地址。
type OutboundRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Fetcher 抓取完整响应。传输层失败必须返回 FetchError；任何 HTTP 状态码都算成功抓取。
type Fetcher interface {
	Fetch(ctx context.Context, req *OutboundRequest) (*cache.Response, error)
}

// HTTPFetcher 基于共享 http.Client 实现 Fetcher，并提供透传所需的流式接口。
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 包装 client；client 为空时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Fetch 读取完整正文，便于同时写缓存与返回给调用方。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *OutboundRequest) (*cache.Response, error) {
	resp, err := f.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cacheerr.Fetch(err, req.URL)
	}
	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// Get 以 GET 抓取 target，签名与 cache.FetchFunc 一致，供预缓存使用。
func (f *HTTPFetcher) Get(ctx context.Context, target string) (*cache.Response, error) {
	return f.Fetch(ctx, &OutboundRequest{Method: http.MethodGet, URL: target})
}

// Stream 发送请求并返回未读取的响应，调用方负责关闭 Body。
func (f *HTTPFetcher) Stream(ctx context.Context, req *OutboundRequest) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil outbound request")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(httpReq.Header, req.Header)
	}
	httpReq.Header.Del("Host")
	httpReq.Header.Del("Accept-Encoding")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, cacheerr.Fetch(err, req.URL)
	}
	return resp, nil
}
