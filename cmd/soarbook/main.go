package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soarbook/config"
	"soarbook/internal/engine"
	inputredis "soarbook/internal/input/redis"
	"soarbook/internal/logger"
	"soarbook/internal/metrics"
	"soarbook/internal/pipeline"
	"soarbook/internal/playbook"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("soarbook.yml"); err == nil {
		return "soarbook.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "soarbook.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "soarbook.yml"
}

func applyDefaults(cfg *config.Config) {
	sb := &cfg.Soarbook
	if sb.Input.Redis.Addr == "" {
		sb.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if sb.Input.Redis.Key == "" {
		sb.Input.Redis.Key = "soarbook:containers"
	}
	if sb.Input.Redis.BlockTimeout == 0 {
		sb.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if sb.Pipeline.Workers <= 0 {
		sb.Pipeline.Workers = 4
	}
	if sb.Pipeline.BatchSize <= 0 {
		sb.Pipeline.BatchSize = 100
	}
	if sb.Pipeline.FlushInterval <= 0 {
		sb.Pipeline.FlushInterval = 2 * time.Second
	}

	if sb.Playbook.Path == "" {
		sb.Playbook.Path = "playbooks/recon.yml"
	}
	if sb.Playbook.ActionConcurrency == 0 {
		sb.Playbook.ActionConcurrency = 8
	}

	if sb.Prompts.Mode == "" {
		sb.Prompts.Mode = "redis"
	}
	if sb.Prompts.Redis.Addr == "" {
		sb.Prompts.Redis.Addr = sb.Input.Redis.Addr
	}
	if sb.Prompts.Redis.KeyPrefix == "" {
		sb.Prompts.Redis.KeyPrefix = "soarbook:prompts"
	}

	if len(sb.Output.Sinks) == 0 {
		sb.Output.Sinks = []string{"file"}
	}
	if sb.Output.File.Path == "" {
		sb.Output.File.Path = "output/runs.jsonl"
	}
	if sb.Output.SQLite.Path == "" {
		sb.Output.SQLite.Path = "output/soarbook.db"
	}
	if sb.Output.ClickHouse.Database == "" {
		sb.Output.ClickHouse.Database = "soarbook"
	}
	if sb.Output.ClickHouse.Table == "" {
		sb.Output.ClickHouse.Table = "playbook_nodes"
	}
	if sb.Output.RunState.Addr == "" {
		sb.Output.RunState.Addr = sb.Input.Redis.Addr
	}

	if sb.Metrics.Addr == "" {
		sb.Metrics.Addr = ":9464"
	}
	if sb.Metrics.Path == "" {
		sb.Metrics.Path = "/metrics"
	}

	if sb.Logging.Level == "" {
		sb.Logging.Level = "info"
	}
}

func loadConfig(configArg string) (*config.Config, string) {
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	lg := cfg.Soarbook.Logging
	if err := logger.Init(lg.Enabled, lg.Level, lg.File, lg.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg, configPath
}

func runServe(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}
	cfg, configPath := loadConfig(configArg)
	sb := cfg.Soarbook

	logger.Infof("soarbook starting")
	logger.Infof("Config loaded from: %s", configPath)

	pb, err := playbook.Load(sb.Playbook.Path)
	if err != nil {
		logger.Errorf("Failed to load playbook %s: %v", sb.Playbook.Path, err)
		log.Fatalf("Failed to load playbook: %v", err)
	}
	logger.Infof("Playbook %s loaded: nodes=%d entries=%v", pb.Name, len(pb.Nodes()), pb.Entries())

	registry, err := buildRegistry(sb.Assets)
	if err != nil {
		logger.Errorf("Failed to build asset registry: %v", err)
		log.Fatalf("Failed to build asset registry: %v", err)
	}
	defer registry.Close()

	prompter, closePrompter, err := buildPrompter(sb.Prompts)
	if err != nil {
		logger.Errorf("Failed to create prompter: %v", err)
		log.Fatalf("Failed to create prompter: %v", err)
	}
	defer closePrompter()

	writer, err := buildWriters(sb.Output)
	if err != nil {
		logger.Errorf("Failed to create summary writers: %v", err)
		log.Fatalf("Failed to create summary writers: %v", err)
	}

	opts := []engine.Option{
		engine.WithInvoker(registry),
		engine.WithPrompter(prompter),
		engine.WithActionConcurrency(sb.Playbook.ActionConcurrency),
	}

	var metricsServer *http.Server
	if sb.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := metrics.New(reg)
		if err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		opts = append(opts, engine.WithObserver(collector))

		mux := http.NewServeMux()
		mux.Handle(sb.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: sb.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		logger.Infof("Metrics exposed on %s%s", sb.Metrics.Addr, sb.Metrics.Path)
	}

	driver, err := engine.New(pb, opts...)
	if err != nil {
		logger.Errorf("Failed to create playbook driver: %v", err)
		log.Fatalf("Failed to create playbook driver: %v", err)
	}

	queue, err := inputredis.NewQueue(inputredis.Config{
		Addr:         sb.Input.Redis.Addr,
		Password:     sb.Input.Redis.Password,
		DB:           sb.Input.Redis.DB,
		Key:          sb.Input.Redis.Key,
		BlockTimeout: sb.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis queue: %v", err)
		log.Fatalf("Failed to create Redis queue: %v", err)
	}

	pipe := pipeline.NewRedisPlaybookPipeline(
		queue,
		driver,
		writer,
		sb.Pipeline.Workers,
		sb.Pipeline.BatchSize,
		sb.Pipeline.FlushInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pipe.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warnf("Pipeline did not drain within 30s")
	}

	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutdownCtx)
		stop()
	}
	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("soarbook stopped")
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "run":
			os.Exit(runOnce(os.Args[2:]))
		case "validate":
			os.Exit(runValidate(os.Args[2:]))
		case "dot":
			os.Exit(runDot(os.Args[2:]))
		case "enqueue":
			os.Exit(runEnqueue(os.Args[2:]))
		case "prompts":
			os.Exit(runPrompts(os.Args[2:]))
		case "respond":
			os.Exit(runRespond(os.Args[2:]))
		case "status":
			os.Exit(runStatus(os.Args[2:]))
		default:
			// First arg is a config path.
			runServe(os.Args[1:])
			return
		}
	}

	runServe(nil)
}
