package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tilehub/tilehub/internal/cache"
	"github.com/tilehub/tilehub/internal/config"
	"github.com/tilehub/tilehub/internal/logging"
	"github.com/tilehub/tilehub/internal/server"
	"github.com/tilehub/tilehub/internal/server/routes"
	"github.com/tilehub/tilehub/internal/source"
	"github.com/tilehub/tilehub/internal/version"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
// ctx 结束时停止 HTTP 服务并关闭全部存储。
func run(ctx context.Context, opts cliOptions) int {
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
	defer logger.Close()

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sources"] = len(cfg.Sources)
		fields["store_modes"] = config.StoreModes(cfg.Sources)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	catalog, err := source.NewCatalog(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建来源目录失败: %v\n", err)
		return 1
	}

	// 启动顺序：配置 → 来源目录 → 磁盘缓存（持有目录锁）→ Fiber server。
	tiles, err := cache.New(cache.Options{
		Root:          cfg.Global.StoragePath,
		MaxOpenStores: cfg.Global.MaxOpenStores,
		Engine:        engineOptions(cfg.Global),
		Logger:        logger.Logger,
		Policy:        catalog,
	})
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			fmt.Fprintf(stdErr, "缓存目录 %s 已被其它实例占用\n", cfg.Global.StoragePath)
		} else {
			fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		}
		return 1
	}
	defer tiles.CloseAll(true)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sources"] = len(cfg.Sources)
	fields["store_modes"] = config.StoreModes(cfg.Sources)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = tiles.Root()
	fields["max_open_stores"] = cfg.Global.MaxOpenStores
	fields["version"] = version.Full()
	if total, err := tiles.TotalSizeBytes(ctx); err == nil {
		fields["storage_size"] = humanize.Bytes(uint64(total))
	}
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, catalog, tiles, logger.Logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("服务已停止")
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tilehub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TILEHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TILEHUB_CONFIG")
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

// engineOptions 将全局配置中的引擎调优参数转换为缓存层选项。
func engineOptions(g config.GlobalConfig) cache.EngineOptions {
	return cache.EngineOptions{
		SyncWrites:       g.SyncWrites,
		MemTableSize:     g.MemTableSize,
		ValueLogFileSize: g.ValueLogFileSize,
		Compression:      g.Compression,
	}
}

func startHTTPServer(ctx context.Context, cfg *config.Config, catalog *source.Catalog, tiles *cache.TileCache, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Catalog:    catalog,
		Store:      tiles,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStoreRoutes(app, catalog, tiles)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	})
}
