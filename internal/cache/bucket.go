package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/offline-hub/internal/cacheerr"
)

// Options 控制 bucket 的写入限制。
type Options struct {
	// MaxEntrySize 限制单条正文字节数，<=0 表示不限制。
	MaxEntrySize int64
}

// Bucket 是某个 generation 的缓存句柄，封装编码、配额与克隆语义。
type Bucket struct {
	store Store
	id    BucketID
	opts  Options
	now   func() time.Time
}

// FetchFunc 用于预缓存时获取单个 URL。
type FetchFunc func(ctx context.Context, target string) (*Response, error)

// Open 幂等地打开（必要时创建）bucket。后端失败返回 StorageError。
func Open(ctx context.Context, store Store, id BucketID, opts Options) (*Bucket, error) {
	if store == nil {
		return nil, errors.New("cache store required")
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := store.Open(ctx, id); err != nil {
		return nil, cacheerr.Storage(err, "open")
	}
	return &Bucket{
		store: store,
		id:    id,
		opts:  opts,
		now:   time.Now,
	}, nil
}

// ID 返回 bucket 标识。
func (b *Bucket) ID() BucketID {
	return b.id
}

// Driver 返回底层后端名称。
func (b *Bucket) Driver() string {
	return b.store.Driver()
}

// Match 按请求身份查找缓存。不存在或条目损坏时返回 ErrNotFound，
// 后端故障返回 StorageError。
func (b *Bucket) Match(ctx context.Context, key string) (*Response, error) {
	data, err := b.store.Get(ctx, b.id, EntryName(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, cacheerr.Storage(err, "get")
	}
	storedKey, resp, err := Decode(data)
	if err != nil || storedKey != key {
		return nil, ErrNotFound
	}
	return resp, nil
}

// Put 覆盖写入 resp 的副本；调用方保留 resp 的所有权。
func (b *Bucket) Put(ctx context.Context, key string, resp *Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	if limit := b.opts.MaxEntrySize; limit > 0 && int64(len(resp.Body)) > limit {
		return cacheerr.Quota(int64(len(resp.Body)), limit)
	}
	stored := resp.Clone()
	stored.StoredAt = b.now().UTC()
	stored.Header.Del("Content-Length")
	data, err := Encode(key, stored)
	if err != nil {
		return cacheerr.Storage(err, "encode")
	}
	if err := b.store.Put(ctx, b.id, EntryName(key), data); err != nil {
		return cacheerr.Storage(err, "put")
	}
	return nil
}

// Seed 并发抓取 urls 并写入 bucket，所有 URL 都会被尝试。返回失败的 URL（已排序）以及
// 聚合错误：非 2xx 与网络错误为 FetchError，写入失败为 StorageError。
func (b *Bucket) Seed(ctx context.Context, fetch FetchFunc, urls []string, concurrency int) ([]string, error) {
	if fetch == nil {
		return nil, errors.New("fetch func required")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu     sync.Mutex
		failed []string
		errs   []error
	)
	record := func(target string, err error) {
		mu.Lock()
		failed = append(failed, target)
		errs = append(errs, fmt.Errorf("seed %s: %w", target, err))
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, target := range urls {
		g.Go(func() error {
			resp, err := fetch(ctx, target)
			if err != nil {
				if !cacheerr.IsFetch(err) {
					err = cacheerr.Fetch(err, target)
				}
				record(target, err)
				return nil
			}
			if !resp.OK() {
				record(target, cacheerr.FetchStatus(target, resp.Status))
				return nil
			}
			if err := b.Put(ctx, Key(http.MethodGet, target), resp); err != nil {
				record(target, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failed)
	return failed, errors.Join(errs...)
}

// DeleteAllExcept 删除站点下除 active 外的所有 generation，返回已删除的名称。
// 单个 bucket 删除失败不会中断其余清理，错误会聚合返回。
func DeleteAllExcept(ctx context.Context, store Store, site, active string) ([]string, error) {
	if store == nil {
		return nil, errors.New("cache store required")
	}
	generations, err := store.Generations(ctx, site)
	if err != nil {
		return nil, cacheerr.Storage(err, "list")
	}

	var (
		removed []string
		errs    []error
	)
	for _, gen := range generations {
		if gen == active {
			continue
		}
		if err := store.Drop(ctx, BucketID{Site: site, Generation: gen}); err != nil {
			errs = append(errs, fmt.Errorf("drop %s/%s: %w", site, gen, cacheerr.Storage(err, "drop")))
			continue
		}
		removed = append(removed, gen)
	}
	sort.Strings(removed)
	return removed, errors.Join(errs...)
}
