// Package lifecycle 驱动单个 generation 的 install → activate 流程：
// 预缓存核心外壳与应用清单，随后清理同站点的其它 generation。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/cacheerr"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/metrics"
)

// Phase 是 generation 的生命周期阶段。
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseInstalling
	PhaseActivating
	PhaseActive
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInstalling:
		return "installing"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrWrongPhase 表示在不允许的阶段调用了 Install/Activate。
var ErrWrongPhase = errors.New("lifecycle: operation not allowed in current phase")

// Options 描述一个 generation 的全部依赖，generation 只在这里注入。
type Options struct {
	Site            string
	Generation      string
	Origin          *url.URL
	CoreShell       []string
	ManifestPath    string
	Store           cache.Store
	Fetch           cache.FetchFunc
	BucketOptions   cache.Options
	SeedConcurrency int
	Logger          *logrus.Logger
	Metrics         *metrics.Recorder
}

// InstallReport 汇总 install 阶段结果。
type InstallReport struct {
	// Core 是已写入的核心外壳 URL。
	Core []string
	// Extra 是清单中成功预缓存的 URL。
	Extra []string
	// Failed 是清单中抓取或写入失败的 URL（不影响安装）。
	Failed []string
	// ManifestErr 记录清单抓取/解析失败，安装仍会继续。
	ManifestErr error
	// Reused 表示源站不可达，沿用了存储中已有的同名 generation。
	Reused  bool
	Elapsed time.Duration
}

// Controller 管理单个 (site, generation) 的生命周期。
type Controller struct {
	opts   Options
	logger *logrus.Logger

	phase  atomic.Int32
	bucket atomic.Pointer[cache.Bucket]

	mu     sync.Mutex
	report InstallReport
}

// New 校验依赖并返回处于 idle 阶段的控制器。
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle: cache store required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("lifecycle: fetch func required")
	}
	if opts.Origin == nil {
		return nil, errors.New("lifecycle: origin required")
	}
	if err := (cache.BucketID{Site: opts.Site, Generation: opts.Generation}).Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	if opts.SeedConcurrency <= 0 {
		opts.SeedConcurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Controller{opts: opts, logger: logger}, nil
}

func (c *Controller) Site() string       { return c.opts.Site }
func (c *Controller) Generation() string { return c.opts.Generation }

// Phase 可被并发读取。
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// Bucket 在 install 成功打开 bucket 之后才非 nil。
func (c *Controller) Bucket() *cache.Bucket {
	return c.bucket.Load()
}

// Report 返回最近一次 install 的结果副本。
func (c *Controller) Report() InstallReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// Driver 返回底层存储后端名称。
func (c *Controller) Driver() string {
	return c.opts.Store.Driver()
}

// Run 依次执行 Install 与 Activate，两者都完成后才返回。
func (c *Controller) Run(ctx context.Context) (InstallReport, error) {
	report, err := c.Install(ctx)
	if err != nil {
		return report, err
	}
	if err := c.Activate(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Install 打开 bucket 并预缓存。核心外壳任一 URL 失败都会导致安装失败，
// 本次新建的 bucket 会被删除；已存在且核心外壳完整的 bucket 会被沿用。清单相关的失败只记录日志。
func (c *Controller) Install(ctx context.Context) (InstallReport, error) {
	if !c.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseInstalling)) {
		return InstallReport{}, fmt.Errorf("%w: install from %s", ErrWrongPhase, c.Phase())
	}
	c.publishPhase(PhaseInstalling)
	started := time.Now()
	id := cache.BucketID{Site: c.opts.Site, Generation: c.opts.Generation}
	log := c.logger.WithFields(logging.LifecycleFields(id.Site, id.Generation, PhaseInstalling.String(), c.Driver()))

	existed, err := c.bucketExists(ctx)
	if err != nil {
		log.WithError(err).Warn("lifecycle_list_failed")
	}

	bucket, err := cache.Open(ctx, c.opts.Store, id, c.opts.BucketOptions)
	if err != nil {
		c.fail(log, err)
		return InstallReport{}, fmt.Errorf("open bucket %s: %w", id, err)
	}

	coreURLs, _ := manifest.PrecacheSet(c.opts.Origin, c.opts.CoreShell, nil)
	if _, err := bucket.Seed(ctx, c.opts.Fetch, coreURLs, c.opts.SeedConcurrency); err != nil {
		// 同一 generation 重启且源站不可达：已有 bucket 的核心外壳完整时沿用它。
		if existed && c.coreComplete(ctx, bucket, coreURLs) {
			log.WithError(err).Warn("lifecycle_reuse_existing")
			return c.installed(log, bucket, InstallReport{Core: coreURLs, Reused: true}, started), nil
		}
		if !existed {
			if dropErr := c.opts.Store.Drop(context.WithoutCancel(ctx), id); dropErr != nil {
				log.WithError(dropErr).Warn("lifecycle_discard_failed")
			}
		}
		c.fail(log, err)
		return InstallReport{}, fmt.Errorf("precache core shell: %w", err)
	}

	report := InstallReport{Core: coreURLs}
	entries, manifestErr := c.fetchListing(ctx)
	if manifestErr != nil {
		report.ManifestErr = manifestErr
		log.WithError(manifestErr).WithField("manifest", c.opts.ManifestPath).Warn("lifecycle_manifest_skipped")
	}
	_, extraURLs := manifest.PrecacheSet(c.opts.Origin, c.opts.CoreShell, entries)
	if len(extraURLs) > 0 {
		failed, seedErr := bucket.Seed(ctx, c.opts.Fetch, extraURLs, c.opts.SeedConcurrency)
		if seedErr != nil {
			log.WithError(seedErr).WithField("failed", len(failed)).Warn("lifecycle_listing_partial")
		}
		report.Failed = failed
		report.Extra = subtract(extraURLs, failed)
	}
	return c.installed(log, bucket, report, started), nil
}

// installed 发布 bucket 与报告并进入 activating。
func (c *Controller) installed(log *logrus.Entry, bucket *cache.Bucket, report InstallReport, started time.Time) InstallReport {
	report.Elapsed = time.Since(started)

	c.bucket.Store(bucket)
	c.mu.Lock()
	c.report = report
	c.mu.Unlock()

	c.opts.Metrics.Precached(c.opts.Site, c.opts.Generation, "core", len(report.Core))
	c.opts.Metrics.Precached(c.opts.Site, c.opts.Generation, "listing", len(report.Extra))

	c.phase.Store(int32(PhaseActivating))
	c.publishPhase(PhaseActivating)
	log.WithFields(logrus.Fields{
		"core":       len(report.Core),
		"listing":    len(report.Extra),
		"failed":     len(report.Failed),
		"reused":     report.Reused,
		"elapsed_ms": report.Elapsed.Milliseconds(),
	}).Info("lifecycle_installed")
	return report
}

// coreComplete 判断 bucket 中是否已有全部核心外壳条目。
func (c *Controller) coreComplete(ctx context.Context, bucket *cache.Bucket, coreURLs []string) bool {
	for _, target := range coreURLs {
		if _, err := bucket.Match(ctx, cache.Key(http.MethodGet, target)); err != nil {
			return false
		}
	}
	return true
}

// Activate 删除同站点的其它 generation。清理失败只记录日志，阶段无条件进入 active。
func (c *Controller) Activate(ctx context.Context) error {
	if c.Phase() != PhaseActivating {
		return fmt.Errorf("%w: activate from %s", ErrWrongPhase, c.Phase())
	}
	log := c.logger.WithFields(logging.LifecycleFields(c.opts.Site, c.opts.Generation, PhaseActivating.String(), c.Driver()))

	removed, err := cache.DeleteAllExcept(ctx, c.opts.Store, c.opts.Site, c.opts.Generation)
	for _, gen := range removed {
		c.opts.Metrics.ForgetGeneration(c.opts.Site, gen)
	}
	if err != nil {
		c.opts.Metrics.StorageError(c.opts.Site, "drop")
		log.WithError(err).WithField("removed", removed).Warn("lifecycle_cleanup_partial")
	} else if len(removed) > 0 {
		log.WithField("removed", removed).Info("lifecycle_cleanup")
	}

	c.phase.Store(int32(PhaseActive))
	c.publishPhase(PhaseActive)
	log.WithField("phase", PhaseActive.String()).Info("lifecycle_active")
	return nil
}

// fetchListing 抓取并解析应用清单；未配置 ManifestPath 时返回空列表。
func (c *Controller) fetchListing(ctx context.Context) ([]manifest.Entry, error) {
	if c.opts.ManifestPath == "" {
		return nil, nil
	}
	target, ok := manifest.Resolve(c.opts.Origin, c.opts.ManifestPath)
	if !ok {
		return nil, cacheerr.MalformedManifest(nil, "manifest path is not same-origin")
	}
	resp, err := c.opts.Fetch(ctx, target)
	if err != nil {
		if !cacheerr.IsFetch(err) {
			err = cacheerr.Fetch(err, target)
		}
		return nil, err
	}
	if !resp.OK() {
		return nil, cacheerr.FetchStatus(target, resp.Status)
	}
	return manifest.Parse(resp.Body)
}

func (c *Controller) bucketExists(ctx context.Context) (bool, error) {
	gens, err := c.opts.Store.Generations(ctx, c.opts.Site)
	if err != nil {
		return false, err
	}
	for _, gen := range gens {
		if gen == c.opts.Generation {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) fail(log *logrus.Entry, err error) {
	if cacheerr.IsStorage(err) {
		c.opts.Metrics.StorageError(c.opts.Site, "install")
	}
	c.phase.Store(int32(PhaseFailed))
	c.publishPhase(PhaseFailed)
	log.WithError(err).Error("lifecycle_install_failed")
}

func (c *Controller) publishPhase(p Phase) {
	c.opts.Metrics.Phase(c.opts.Site, c.opts.Generation, int(p))
}

func subtract(all, remove []string) []string {
	if len(remove) == 0 {
		return all
	}
	skip := make(map[string]struct{}, len(remove))
	for _, item := range remove {
		skip[item] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, item := range all {
		if _, ok := skip[item]; !ok {
			out = append(out, item)
		}
	}
	return out
}
