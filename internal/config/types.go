package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// RedisConfig 对应 [Redis] 段，仅在 StorageDriver = "redis" 时生效。
type RedisConfig struct {
	Addr     string `mapstructure:"Addr"`
	Password string `mapstructure:"Password"`
	DB       int    `mapstructure:"DB"`
	Prefix   string `mapstructure:"Prefix"`
}

// S3Config 对应 [S3] 段，仅在 StorageDriver = "s3" 时生效。
type S3Config struct {
	Endpoint  string `mapstructure:"Endpoint"`
	Region    string `mapstructure:"Region"`
	Bucket    string `mapstructure:"Bucket"`
	AccessKey string `mapstructure:"AccessKey"`
	SecretKey string `mapstructure:"SecretKey"`
	UseSSL    bool   `mapstructure:"UseSSL"`
	PathStyle bool   `mapstructure:"PathStyle"`
}

// GlobalConfig 描述全局运行时行为，所有站点共享同一份参数。
type GlobalConfig struct {
	ListenPort      int         `mapstructure:"ListenPort"`
	LogLevel        string      `mapstructure:"LogLevel"`
	LogFilePath     string      `mapstructure:"LogFilePath"`
	LogMaxSize      int         `mapstructure:"LogMaxSize"`
	LogMaxBackups   int         `mapstructure:"LogMaxBackups"`
	LogCompress     bool        `mapstructure:"LogCompress"`
	StorageDriver   string      `mapstructure:"StorageDriver"`
	StoragePath     string      `mapstructure:"StoragePath"`
	MaxEntrySize    int64       `mapstructure:"MaxEntrySize"`
	UpstreamTimeout Duration    `mapstructure:"UpstreamTimeout"`
	SeedConcurrency int         `mapstructure:"SeedConcurrency"`
	// AdminToken 保护 generation 切换接口，为空时该接口拒绝所有请求。
	AdminToken      string      `mapstructure:"AdminToken"`
	Redis           RedisConfig `mapstructure:"Redis"`
	S3              S3Config    `mapstructure:"S3"`
}

// SiteConfig 描述一个被加速的站点：对外域名、源站以及离线缓存策略。
type SiteConfig struct {
	Name                 string   `mapstructure:"Name"`
	Domain               string   `mapstructure:"Domain"`
	Origin               string   `mapstructure:"Origin"`
	Generation           string   `mapstructure:"Generation"`
	HubDocument          string   `mapstructure:"HubDocument"`
	CoreShell            []string `mapstructure:"CoreShell"`
	ManifestPath         string   `mapstructure:"ManifestPath"`
	AppPrefix            string   `mapstructure:"AppPrefix"`
	StaticPrefix         string   `mapstructure:"StaticPrefix"`
	CacheFirstExtensions []string `mapstructure:"CacheFirstExtensions"`
	PassThroughForeign   bool     `mapstructure:"PassThroughForeign"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// OfflineMode 输出 `precache` 或 `pass-through`，供日志字段使用。
func (s SiteConfig) OfflineMode() string {
	if strings.TrimSpace(s.Generation) == "" {
		return "pass-through"
	}
	return "precache"
}

// SiteGenerations 返回所有站点的 generation 摘要，例如 lab:v3。
func SiteGenerations(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		gen := site.Generation
		if gen == "" {
			gen = "-"
		}
		result[i] = fmt.Sprintf("%s:%s", site.Name, gen)
	}
	return result
}
