package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"
)

// RedisOptions 描述 redis 后端连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisClient 创建 redis 客户端并 Ping 一次确认可用。
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore 基于任意 redis.Cmdable 构建缓存后端，prefix 用于隔离命名空间。
func NewRedisStore(r redis.Cmdable, prefix string) Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = "offline-hub"
	}
	return &redisStore{r: r, prefix: prefix}
}

// redisStore 的键布局：
//
//	<prefix>:<site>:generations            # SET，记录已打开的 generation
//	<prefix>:<site>:<generation>:<entry>   # STRING，编码后的条目
type redisStore struct {
	r      redis.Cmdable
	prefix string
}

func (s *redisStore) Driver() string {
	return "redis"
}

func (s *redisStore) generationsKey(site string) string {
	return s.prefix + ":" + site + ":generations"
}

func (s *redisStore) entryKey(id BucketID, entry string) string {
	return s.prefix + ":" + id.Site + ":" + id.Generation + ":" + entry
}

func (s *redisStore) Open(ctx context.Context, id BucketID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	return s.r.SAdd(ctx, s.generationsKey(id.Site), id.Generation).Err()
}

func (s *redisStore) Get(ctx context.Context, id BucketID, entry string) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	val, err := s.r.Get(ctx, s.entryKey(id, entry)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (s *redisStore) Put(ctx context.Context, id BucketID, entry string, data []byte) error {
	if err := id.Validate(); err != nil {
		return err
	}
	// 先登记 generation：Drop 之后的迟到写入仍会出现在列表中，由下一次清理回收。
	if err := s.r.SAdd(ctx, s.generationsKey(id.Site), id.Generation).Err(); err != nil {
		return err
	}
	return s.r.Set(ctx, s.entryKey(id, entry), data, 0).Err()
}

func (s *redisStore) Generations(ctx context.Context, site string) ([]string, error) {
	if err := validateName("site", site); err != nil {
		return nil, err
	}
	members, err := s.r.SMembers(ctx, s.generationsKey(site)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (s *redisStore) Drop(ctx context.Context, id BucketID) error {
	if err := id.Validate(); err != nil {
		return err
	}
	pattern := s.prefix + ":" + id.Site + ":" + id.Generation + ":*"
	iter := s.r.Scan(ctx, 0, pattern, 256).Iterator()
	batch := make([]string, 0, 256)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.r.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		if err := s.r.Del(ctx, batch...).Err(); err != nil {
			return err
		}
	}
	return s.r.SRem(ctx, s.generationsKey(id.Site), id.Generation).Err()
}
