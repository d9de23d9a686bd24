package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedDrivers = map[string]struct{}{
	"disk":  {},
	"redis": {},
	"s3":    {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 disk|redis|s3")
	}
	switch g.StorageDriver {
	case "disk":
		if g.StoragePath == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case "redis":
		if strings.TrimSpace(g.Redis.Addr) == "" {
			return newFieldError("Redis.Addr", "StorageDriver=redis 时不能为空")
		}
	case "s3":
		if strings.TrimSpace(g.S3.Endpoint) == "" {
			return newFieldError("S3.Endpoint", "StorageDriver=s3 时不能为空")
		}
		if strings.TrimSpace(g.S3.Bucket) == "" {
			return newFieldError("S3.Bucket", "StorageDriver=s3 时不能为空")
		}
	}
	if g.MaxEntrySize < 0 {
		return newFieldError("Global.MaxEntrySize", "不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.SeedConcurrency <= 0 {
		return newFieldError("Global.SeedConcurrency", "必须大于 0")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if err := validateName(site.Name); err != nil {
			return newFieldError(siteField(site.Name, "Name"), err.Error())
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		domainKey := strings.ToLower(site.Domain)
		if other, exists := seenDomains[domainKey]; exists {
			return newFieldError(siteField(site.Name, "Domain"), "与站点 "+other+" 重复")
		}
		seenDomains[domainKey] = site.Name

		if err := validateOrigin(site.Origin); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Origin"), err)
		}
		if site.Generation != "" {
			if err := validateName(site.Generation); err != nil {
				return newFieldError(siteField(site.Name, "Generation"), err.Error())
			}
		}
		if err := validatePath(site.HubDocument); err != nil {
			return newFieldError(siteField(site.Name, "HubDocument"), err.Error())
		}
		if !containsPath(site.CoreShell, site.HubDocument) {
			return newFieldError(siteField(site.Name, "CoreShell"), "必须包含 HubDocument")
		}
		for _, p := range site.CoreShell {
			if err := validatePath(p); err != nil {
				return newFieldError(siteField(site.Name, "CoreShell"), err.Error())
			}
		}
		if site.ManifestPath != "" {
			if err := validatePath(site.ManifestPath); err != nil {
				return newFieldError(siteField(site.Name, "ManifestPath"), err.Error())
			}
		}
		for field, prefix := range map[string]string{"AppPrefix": site.AppPrefix, "StaticPrefix": site.StaticPrefix} {
			if err := validatePath(prefix); err != nil {
				return newFieldError(siteField(site.Name, field), err.Error())
			}
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源站不应包含路径: %s", raw)
	}
	return nil
}

// validateName 约束站点名与 generation，它们会直接成为存储路径/键的一部分。
func validateName(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\:*?[] ") {
		return fmt.Errorf("包含非法字符: %q", name)
	}
	return nil
}

func validatePath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("必须以 / 开头: %q", p)
	}
	return nil
}

func containsPath(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
