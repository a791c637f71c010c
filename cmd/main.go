package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JohnBaeGH/Upbit/internal/api"
	"github.com/JohnBaeGH/Upbit/internal/control"
	"github.com/JohnBaeGH/Upbit/internal/executor"
	"github.com/JohnBaeGH/Upbit/internal/metrics"
	"github.com/JohnBaeGH/Upbit/internal/observer"
	"github.com/JohnBaeGH/Upbit/internal/service"
	"github.com/JohnBaeGH/Upbit/internal/strategy"
	"github.com/JohnBaeGH/Upbit/internal/trader"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	loader := service.NewConfigLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := service.InitLogger(cfg.Log.Level)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if used := loader.ConfigFileUsed(); used != "" {
		logger.Info("Config loaded", zap.String("File", used))
	} else {
		logger.Warn("No config file found, using defaults and environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 策略循环不随信号取消，退出时由 Close 等待进行中的周期完成
	runCtx := context.Background()

	// 1. 交易所客户端 (K 线 + 交易)
	client := api.NewClient(api.ClientConfig{
		BaseURL:        cfg.Exchange.RESTURL,
		AccessKey:      cfg.Exchange.AccessKey,
		SecretKey:      cfg.Exchange.SecretKey,
		Timeout:        cfg.Exchange.RequestTimeout,
		PriceStaleness: cfg.Exchange.PriceStaleness,
	}, logger)

	// 2. 实时价格推送，供状态接口标记浮动盈亏
	if cfg.Exchange.StreamPrices {
		connector := api.NewConnector(cfg.Exchange.WSURL, []string{cfg.Strategy.Market}, logger)
		client.SetPriceFeed(connector)
		go connector.Start(ctx)
	}

	// 3. 持仓和执行器
	tracker := strategy.NewPositionTracker(logger)
	simulator := executor.NewSimulatorExecutor(tracker, logger)
	var live executor.Executor
	if cfg.Exchange.HasCredentials() {
		live = executor.NewUpbitExecutor(client, tracker, logger)
	} else {
		logger.Warn("Exchange credentials not set, live trading disabled")
	}

	tr, err := trader.New(trader.Config{
		Candles:   client,
		Tracker:   tracker,
		Simulator: simulator,
		Live:      live,
		Strategy:  cfg.Strategy,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create trader", zap.Error(err))
	}

	// 4. 观察者
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	tr.AddObserver(observer.NewLogObserver(logger))
	tr.AddObserver(m)
	tr.OnObserverDrop(m.ObserverDropped)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis not reachable, events will be retried per publish", zap.String("Addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()

		market := func() string { return tr.Status().Config.Market }
		tr.AddObserver(observer.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix, market, logger))
	}

	// 5. 配置文件热加载，只更新策略参数
	if loader.ConfigFileUsed() != "" {
		loader.Watch(func(newCfg *service.Config, err error) {
			if err != nil {
				logger.Error("Ignoring invalid config change", zap.Error(err))
				return
			}
			if err := tr.ReplaceConfig(newCfg.Strategy); err != nil {
				logger.Error("Config change rejected", zap.Error(err))
			}
		})
	}

	// 6. 控制接口
	var srv *http.Server
	if cfg.Server.Enabled {
		handler := control.NewHandler(runCtx, tr, client, reg, logger)
		srv = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Control server listening", zap.String("Addr", cfg.Server.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Control server failed", zap.Error(err))
				stop()
			}
		}()
	}

	if cfg.AutoStart {
		tr.Start(runCtx)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	// 先关闭控制接口，避免关闭期间再次启动策略循环
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Control server shutdown failed", zap.Error(err))
		}
		cancel()
	}

	// 等待进行中的周期结束
	tr.Close()
	if rdb != nil {
		_ = rdb.Close()
	}

	perf := tr.Performance()
	logger.Info("Trader stopped",
		zap.Int("ClosedTrades", perf.TotalTrades),
		zap.Float64("TotalProfit", perf.TotalProfit),
		zap.Float64("WinRate", perf.WinRate))
}
