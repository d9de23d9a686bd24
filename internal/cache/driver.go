package cache

import (
	"context"
	"fmt"
	"strings"
)

// 支持的后端名称。
const (
	DriverDisk  = "disk"
	DriverRedis = "redis"
	DriverS3    = "s3"
)

// DriverOptions 汇总全部后端的配置，由 Driver 字段决定实际启用哪一个。
type DriverOptions struct {
	Driver      string
	StoragePath string
	Redis       RedisOptions
	S3          S3Options
}

// NewDriverStore 按 Driver 构建后端，返回的 closer 用于进程退出时释放连接。
func NewDriverStore(ctx context.Context, opts DriverOptions) (Store, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverDisk:
		store, err := NewStore(opts.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case DriverRedis:
		client, err := NewRedisClient(ctx, opts.Redis)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(client, opts.Redis.Prefix), client.Close, nil
	case DriverS3:
		store, err := NewS3Store(ctx, opts.S3)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %s", opts.Driver)
	}
}
