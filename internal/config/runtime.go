package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/offline-hub/internal/classify"
)

// SiteRuntime 将站点配置与解析后的源站、分类规则合并，方便运行时快速取用。
type SiteRuntime struct {
	Config SiteConfig
	Origin *url.URL
	Rules  classify.Rules
}

// BuildSiteRuntime 根据站点配置创建运行时描述（假定 Validate 已经通过）。
func BuildSiteRuntime(cfg SiteConfig) (SiteRuntime, error) {
	origin, err := url.Parse(strings.TrimRight(cfg.Origin, "/"))
	if err != nil {
		return SiteRuntime{}, fmt.Errorf("%s: %w", siteField(cfg.Name, "Origin"), err)
	}
	origin.Path = ""
	origin.RawPath = ""
	return SiteRuntime{
		Config: cfg,
		Origin: origin,
		Rules: classify.Rules{
			Origin:       origin,
			AppPrefix:    cfg.AppPrefix,
			StaticPrefix: cfg.StaticPrefix,
			Extensions:   append([]string(nil), cfg.CacheFirstExtensions...),
		},
	}, nil
}
