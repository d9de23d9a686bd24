package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
	"github.com/any-hub/offline-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = len(cfg.Sites)
		fields["generations"] = config.SiteGenerations(cfg.Sites)
		fields["driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建站点注册表失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, closeStore, err := cache.NewDriverStore(ctx, storeOptions(cfg))
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存后端失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("cache_store_close_failed")
		}
	}()

	// 启动顺序：配置 → 注册表 → 缓存后端 → 预缓存 → Fiber server，
	// 各站点的 generation 在开始监听前完成安装，失败的站点以透传模式服务。
	recorder := metrics.New()
	fetcher := proxy.NewHTTPFetcher(server.NewOriginClient(cfg))
	deployer, err := server.NewDeployer(registry, server.DeployerOptions{
		Store:           store,
		Fetch:           fetcher.Get,
		BucketOptions:   cache.Options{MaxEntrySize: cfg.Global.MaxEntrySize},
		SeedConcurrency: cfg.Global.SeedConcurrency,
		Logger:          logger,
		Metrics:         recorder,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化部署器失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = len(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["driver"] = store.Driver()
	fields["generations"] = config.SiteGenerations(cfg.Sites)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := deployer.DeployConfigured(ctx); err != nil {
		logger.WithError(err).Warn("部分站点预缓存失败，已降级为透传")
	}

	handler := proxy.NewForwarder(proxy.NewHandler(fetcher, logger, recorder), logger)
	if err := startHTTPServer(cfg, registry, handler, routes.Options{
		Registry:   registry,
		Deployer:   deployer,
		Metrics:    recorder,
		AdminToken: cfg.Global.AdminToken,
	}, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func storeOptions(cfg *config.Config) cache.DriverOptions {
	g := cfg.Global
	return cache.DriverOptions{
		Driver:      g.StorageDriver,
		StoragePath: g.StoragePath,
		Redis: cache.RedisOptions{
			Addr:     g.Redis.Addr,
			Password: g.Redis.Password,
			DB:       g.Redis.DB,
			Prefix:   g.Redis.Prefix,
		},
		S3: cache.S3Options{
			Endpoint:  g.S3.Endpoint,
			Region:    g.S3.Region,
			Bucket:    g.S3.Bucket,
			AccessKey: g.S3.AccessKey,
			SecretKey: g.S3.SecretKey,
			UseSSL:    g.S3.UseSSL,
			PathStyle: g.S3.PathStyle,
		},
	}
}

func startHTTPServer(
	cfg *config.Config,
	registry *server.SiteRegistry,
	proxyHandler server.ProxyHandler,
	diagnostics routes.Options,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      proxyHandler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.Register(app, diagnostics)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
