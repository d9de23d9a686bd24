package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/metrics"
)

// ErrUnknownSite 表示站点名未在配置中声明。
var ErrUnknownSite = errors.New("unknown site")

// DeployerOptions 是所有站点共享的 lifecycle 依赖。
type DeployerOptions struct {
	Store           cache.Store
	Fetch           cache.FetchFunc
	BucketOptions   cache.Options
	SeedConcurrency int
	Logger          *logrus.Logger
	Metrics         *metrics.Recorder
}

// Deployer 为站点运行新 generation 的生命周期，并在 install 成功后把它切换为服务中的 generation。
// 同一站点的部署串行执行；install 失败时旧 generation 继续服务。
type Deployer struct {
	registry *SiteRegistry
	opts     DeployerOptions
	locks    sync.Map // site name → *sync.Mutex
}

// NewDeployer 校验依赖后返回 Deployer。
func NewDeployer(registry *SiteRegistry, opts DeployerOptions) (*Deployer, error) {
	if registry == nil {
		return nil, errors.New("site registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetch == nil {
		return nil, errors.New("fetch func is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Deployer{registry: registry, opts: opts}, nil
}

// Deploy 安装 generation，成功后立即切换为服务中的 generation，再执行 activate 清理旧 bucket。
// 若 generation 已在服务中则直接返回当前控制器。
func (d *Deployer) Deploy(ctx context.Context, site, generation string) (*lifecycle.Controller, lifecycle.InstallReport, error) {
	route, ok := d.registry.Site(site)
	if !ok {
		return nil, lifecycle.InstallReport{}, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}

	lock := d.siteLock(site)
	lock.Lock()
	defer lock.Unlock()

	if current := route.Active(); current != nil && current.Generation() == generation {
		return current, current.Report(), nil
	}

	ctrl, err := lifecycle.New(lifecycle.Options{
		Site:            route.Config.Name,
		Generation:      generation,
		Origin:          route.Origin,
		CoreShell:       route.Config.CoreShell,
		ManifestPath:    route.Config.ManifestPath,
		Store:           d.opts.Store,
		Fetch:           d.opts.Fetch,
		BucketOptions:   d.opts.BucketOptions,
		SeedConcurrency: d.opts.SeedConcurrency,
		Logger:          d.opts.Logger,
		Metrics:         d.opts.Metrics,
	})
	if err != nil {
		return nil, lifecycle.InstallReport{}, err
	}

	report, err := ctrl.Install(ctx)
	if err != nil {
		return ctrl, report, err
	}

	// 先切换再清理，清理开始后旧 bucket 不再接收新请求。
	previous := route.swapActive(ctrl)
	if err := ctrl.Activate(ctx); err != nil {
		return ctrl, report, err
	}

	fields := logrus.Fields{
		"action":     "deploy",
		"site":       route.Config.Name,
		"generation": generation,
	}
	if previous != nil {
		fields["previous"] = previous.Generation()
	}
	d.opts.Logger.WithFields(fields).Info("generation_serving")
	return ctrl, report, nil
}

// DeployConfigured 为每个配置了 Generation 的站点执行 Deploy。单个站点失败不会阻止其它站点，
// 失败的站点保持纯透传模式；返回聚合后的错误。
func (d *Deployer) DeployConfigured(ctx context.Context) error {
	var errs []error
	for _, route := range d.registry.List() {
		generation := route.Config.Generation
		if generation == "" {
			d.opts.Logger.WithFields(logrus.Fields{
				"action": "deploy",
				"site":   route.Config.Name,
			}).Info("site_pass_through")
			continue
		}
		if _, _, err := d.Deploy(ctx, route.Config.Name, generation); err != nil {
			d.opts.Logger.WithFields(logrus.Fields{
				"action":     "deploy",
				"site":       route.Config.Name,
				"generation": generation,
			}).WithError(err).Error("site_pass_through_after_failure")
			errs = append(errs, fmt.Errorf("site %s: %w", route.Config.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Deployer) siteLock(site string) *sync.Mutex {
	value, _ := d.locks.LoadOrStore(site, &sync.Mutex{})
	return value.(*sync.Mutex)
}
