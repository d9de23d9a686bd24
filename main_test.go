package main

import (
	"strings"
	"testing"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("OFFLINE_HUB_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml", "--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" || !opts.checkOnly {
		t.Fatalf("flag 应高于环境变量，得到 %+v", opts)
	}
}

func TestParseCLIFlagsDefaultPath(t *testing.T) {
	t.Setenv("OFFLINE_HUB_CONFIG", "")
	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" {
		t.Fatalf("默认配置路径应为 config.toml，得到 %s", opts.configPath)
	}
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d: %s", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含加载失败信息，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "offline-hub") {
		t.Fatalf("version 输出应包含 offline-hub 标识")
	}
}

func TestStoreOptionsFollowDriver(t *testing.T) {
	cfg := &config.Config{Global: config.GlobalConfig{
		StorageDriver: cache.DriverRedis,
		StoragePath:   "/tmp/unused",
		Redis:         config.RedisConfig{Addr: "127.0.0.1:6379", DB: 2, Prefix: "hub"},
		S3:            config.S3Config{Bucket: "offline", PathStyle: true},
	}}
	opts := storeOptions(cfg)
	if opts.Driver != "redis" || opts.Redis.Addr != "127.0.0.1:6379" || opts.Redis.DB != 2 || opts.Redis.Prefix != "hub" {
		t.Fatalf("redis 选项映射错误: %+v", opts.Redis)
	}
	if opts.S3.Bucket != "offline" || !opts.S3.PathStyle {
		t.Fatalf("s3 选项映射错误: %+v", opts.S3)
	}
}
