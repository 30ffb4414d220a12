package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/preload-hub/preload-hub/internal/bridge"
	"github.com/preload-hub/preload-hub/internal/cache"
	"github.com/preload-hub/preload-hub/internal/config"
	"github.com/preload-hub/preload-hub/internal/dispatch"
	"github.com/preload-hub/preload-hub/internal/engine"
	"github.com/preload-hub/preload-hub/internal/events"
	"github.com/preload-hub/preload-hub/internal/logging"
	"github.com/preload-hub/preload-hub/internal/preload"
	"github.com/preload-hub/preload-hub/internal/server"
	"github.com/preload-hub/preload-hub/internal/server/routes"
	"github.com/preload-hub/preload-hub/internal/source"
	"github.com/preload-hub/preload-hub/internal/version"
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

	resources := source.NewResourceTable(cfg.Global.ResourceRoot, cfg.ResourceMap())

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["resources"] = config.ResourceNames(cfg.Resources)
		fields["result"] = "ok"
		if missing := resources.Missing(); len(missing) > 0 {
			fields["missing_resources"] = missing
			logger.WithFields(fields).Warn("配置校验通过，但部分资源文件不存在")
			return 0
		}
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → 引擎 → 执行上下文/事件总线 → 桥接模块 → Fiber server。
	svc, err := buildService(cfg, resources, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer svc.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["resources"] = len(cfg.Resources)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["workers"] = cfg.Global.Workers
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 持有进程级组件，便于退出时按相反顺序释放。
type service struct {
	module *bridge.Module
	bus    *events.Bus
	loop   *dispatch.Loop
	loader *engine.Loader
	cancel context.CancelFunc
}

func buildService(cfg *config.Config, resources *source.ResourceTable, logger *logrus.Logger) (*service, error) {
	store, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	global := cfg.Global
	loader, err := engine.New(engine.Options{
		Store:          store,
		Client:         server.NewUpstreamClient(cfg),
		Resources:      resources,
		Logger:         logger,
		Workers:        global.Workers,
		QueueSize:      global.QueueSize,
		MaxRetries:     global.MaxRetries,
		InitialBackoff: global.InitialBackoff.DurationValue(),
		DiskCacheTTL:   global.DiskCacheTTL.DurationValue(),
		MemoryTTL:      global.MemoryCacheTTL.DurationValue(),
		MaxMemoryBytes: global.MaxMemoryCache,
		UserAgent:      global.UserAgent,
		VerifyImages:   global.VerifyImages,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := events.NewBus()
	events.LogEvents(ctx, bus, logger)

	loop := dispatch.New(logger, global.QueueSize)
	module, err := bridge.New(bridge.Options{
		Loop:     loop,
		Engine:   loader,
		Registry: preload.NewRegistry(bus, logger),
		Resolver: source.NewResolver(resources),
		Logger:   logger,
	})
	if err != nil {
		cancel()
		loop.Close()
		loader.Close()
		return nil, err
	}

	return &service{module: module, bus: bus, loop: loop, loader: loader, cancel: cancel}, nil
}

func (s *service) close() {
	s.loop.Close()
	s.loader.Close()
	s.cancel()
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("preload-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PRELOAD_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PRELOAD_HUB_CONFIG")
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

// newHTTPApp 挂载预加载与诊断路由。
func newHTTPApp(svc *service, logger *logrus.Logger) (*fiber.App, error) {
	return server.NewApp(server.AppOptions{
		Logger: logger,
		Register: func(r fiber.Router) {
			routes.RegisterPreloadRoutes(r, svc.module)
			routes.RegisterDiagnosticsRoutes(r, svc.module, svc.bus)
		},
	})
}

func startHTTPServer(cfg *config.Config, svc *service, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := newHTTPApp(svc, logger)
	if err != nil {
		return err
	}

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		sig := <-signals
		logger.WithField("signal", sig.String()).Info("收到退出信号，停止服务")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
