package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 站点级默认值，与最初的单站点部署保持一致。
var (
	defaultCoreShell  = []string{"/", "/index.html", "/assets/site.css", "/assets/site.js", "/manifest.json"}
	defaultExtensions = []string{".css", ".js"}
)

const (
	defaultHubDocument  = "/index.html"
	defaultAppPrefix    = "/apps/"
	defaultStaticPrefix = "/assets/"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectSiteLevelPorts(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Sites {
		applySiteDefaults(&cfg.Sites[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageDriver == "disk" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", "disk")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxEntrySize", 32*1024*1024)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("SeedConcurrency", 4)
	v.SetDefault("Redis.Prefix", "offline-hub")
	v.SetDefault("S3.Region", "us-east-1")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = "disk"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.SeedConcurrency == 0 {
		g.SeedConcurrency = 4
	}
	if g.Redis.Prefix == "" {
		g.Redis.Prefix = "offline-hub"
	}
	g.AdminToken = strings.TrimSpace(g.AdminToken)
}

func applySiteDefaults(s *SiteConfig) {
	s.Generation = strings.TrimSpace(s.Generation)
	s.Origin = strings.TrimRight(strings.TrimSpace(s.Origin), "/")
	if s.HubDocument == "" {
		s.HubDocument = defaultHubDocument
	}
	if len(s.CoreShell) == 0 {
		s.CoreShell = append([]string(nil), defaultCoreShell...)
	}
	if s.AppPrefix == "" {
		s.AppPrefix = defaultAppPrefix
	}
	if s.StaticPrefix == "" {
		s.StaticPrefix = defaultStaticPrefix
	}
	if s.CacheFirstExtensions == nil {
		s.CacheFirstExtensions = append([]string(nil), defaultExtensions...)
	}
	for i, ext := range s.CacheFirstExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.CacheFirstExtensions[i] = ext
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectSiteLevelPorts 所有站点共用全局 ListenPort，站点级 Port 视为配置错误。
func rejectSiteLevelPorts(v *viper.Viper) error {
	raw := v.Get("Site")
	sites, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	for idx, entry := range sites {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := lookupFold(m, "Port"); exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupFold(m, "Name"); ok {
				if s, ok := rawName.(string); ok && s != "" {
					name = s
				}
			}
			return newFieldError(siteField(name, "Port"), "不支持站点级端口，请使用全局 ListenPort")
		}
	}

	return nil
}

// lookupFold 忽略大小写读取 map 键，viper 会把嵌套表的键转成小写。
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
