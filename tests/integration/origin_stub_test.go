package integration

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// originStub 模拟一个离线资源站点：hub 文档、应用、静态资源与应用清单。
// Close 之后所有连接都会被拒绝，用于模拟断网。
type originStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	version  string
	apps     []string
	requests []string
}

func newOriginStub(t *testing.T) *originStub {
	t.Helper()

	stub := &originStub{version: "v1", apps: []string{"/apps/tennis/", "/apps/chess/"}}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start origin stub listener: %v", err)
	}
	stub.listener = listener
	stub.server = &http.Server{Handler: http.HandlerFunc(stub.serve)}
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = stub.server.Serve(listener)
	}()
	t.Cleanup(stub.Close)
	return stub
}

func (s *originStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.RequestURI())
	version := s.version
	apps := append([]string(nil), s.apps...)
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/" || r.URL.Path == "/index.html":
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>hub " + version + "</html>"))
	case r.URL.Path == "/apps/index.json":
		w.Header().Set("Content-Type", "application/json")
		items := make([]string, 0, len(apps))
		for _, app := range apps {
			items = append(items, `{"href":"`+app+`","title":"`+strings.Trim(app, "/")+`"}`)
		}
		items = append(items, `{"href":"https://elsewhere.example/app/"}`)
		_, _ = w.Write([]byte("[" + strings.Join(items, ",") + "]"))
	case strings.HasPrefix(r.URL.Path, "/apps/"):
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + r.URL.Path + " " + version + "</html>"))
	case r.URL.Path == "/assets/site.css":
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write([]byte("body{}"))
	case r.URL.Path == "/assets/site.js":
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("console.log('" + version + "')"))
	case r.URL.Path == "/manifest.json":
		w.Header().Set("Content-Type", "application/manifest+json")
		_, _ = w.Write([]byte(`{"name":"lab"}`))
	case r.URL.Path == "/api/scores":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "sid=abc")
		_, _ = w.Write([]byte(`{"version":"` + version + `","query":"` + r.URL.RawQuery + `"}`))
	default:
		http.NotFound(w, r)
	}
}

func (s *originStub) setVersion(version string, apps ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	if len(apps) > 0 {
		s.apps = apps
	}
}

func (s *originStub) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *originStub) Close() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}
