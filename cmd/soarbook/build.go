package main

import (
	"fmt"
	"os"
	"strings"

	"soarbook/config"
	"soarbook/internal/actions"
	"soarbook/internal/logger"
	"soarbook/internal/output/summaryclickhouse"
	"soarbook/internal/output/summaryhttp"
	"soarbook/internal/output/summaryjson"
	"soarbook/internal/output/summarysqlite"
	"soarbook/internal/pipeline"
	"soarbook/internal/prompt"
	"soarbook/internal/prompt/redisbroker"
	"soarbook/internal/runstate"
)

func buildRegistry(assets []config.AssetConfig) (*actions.Registry, error) {
	reg := actions.NewRegistry()
	for _, a := range assets {
		var c actions.Connector
		switch strings.ToLower(strings.TrimSpace(a.Type)) {
		case "static":
			s, err := actions.LoadStatic(a.Fixtures)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", a.Name, err)
			}
			c = s
			logger.Infof("Asset %s: static fixtures (%s)", a.Name, a.Fixtures)
		case "http":
			h, err := actions.NewHTTP(actions.HTTPConfig{
				Asset:   a.Name,
				URL:     a.HTTP.URL,
				Timeout: a.HTTP.Timeout,
				Headers: a.HTTP.Headers,
			})
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", a.Name, err)
			}
			c = h
			logger.Infof("Asset %s: http (%s)", a.Name, a.HTTP.URL)
		case "rules":
			r, stats, err := actions.NewRules(a.Rules)
			if err != nil {
				return nil, fmt.Errorf("asset %s: %w", a.Name, err)
			}
			logger.Infof("Asset %s: sigma rules loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
				a.Name,
				stats.Loaded,
				stats.SkippedComplex,
				stats.SkippedInvalid,
				stats.TotalFiles,
			)
			if stats.Loaded == 0 {
				logger.Warnf("Asset %s: no compatible Sigma rules loaded", a.Name)
			}
			c = r
		default:
			return nil, fmt.Errorf("asset %s: unknown type %q", a.Name, a.Type)
		}
		if err := reg.Register(a.Name, c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildPrompter(cfg config.PromptsConfig) (prompt.Prompter, func(), error) {
	switch cfg.Mode {
	case "console":
		logger.Infof("Prompt mode: console")
		return prompt.NewConsole(os.Stdin, os.Stdout), func() {}, nil
	case "scripted":
		logger.Infof("Prompt mode: scripted (%d nodes)", len(cfg.Scripted))
		return prompt.NewScripted(cfg.Scripted, cfg.Delay), func() {}, nil
	case "redis":
		b, err := newBroker(cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Prompt mode: redis (%s, %s)", cfg.Redis.Addr, cfg.Redis.KeyPrefix)
		return b, func() {
			if err := b.Close(); err != nil {
				logger.Errorf("Failed to close prompt broker: %v", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown prompt mode: %s", cfg.Mode)
}

func newBroker(cfg config.PromptsConfig) (*redisbroker.Broker, error) {
	return redisbroker.New(redisbroker.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		KeyPrefix:    cfg.Redis.KeyPrefix,
		BlockTimeout: cfg.Redis.BlockTimeout,
		ResponseTTL:  cfg.Redis.ResponseTTL,
	})
}

func newRunState(cfg config.RunStateConfig) (*runstate.RedisStore, error) {
	return runstate.NewRedisStore(runstate.RedisConfig{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.TTL,
	})
}

func buildWriters(cfg config.OutputConfig) (pipeline.MultiWriter, error) {
	var out pipeline.MultiWriter
	fail := func(err error) (pipeline.MultiWriter, error) {
		_ = out.Close()
		return nil, err
	}

	for _, sink := range cfg.Sinks {
		switch strings.ToLower(strings.TrimSpace(sink)) {
		case "file":
			w, err := summaryjson.NewWriter(cfg.File.Path)
			if err != nil {
				return fail(fmt.Errorf("file sink: %w", err))
			}
			out = append(out, w)
			logger.Infof("Output sink: file (%s)", cfg.File.Path)
		case "http":
			w, err := summaryhttp.NewWriter(summaryhttp.Config{
				URL:        cfg.HTTP.URL,
				Timeout:    cfg.HTTP.Timeout,
				Headers:    cfg.HTTP.Headers,
				OnlyFailed: cfg.HTTP.OnlyFailed,
			})
			if err != nil {
				return fail(fmt.Errorf("http sink: %w", err))
			}
			out = append(out, w)
			logger.Infof("Output sink: http (%s, only_failed=%t)", cfg.HTTP.URL, cfg.HTTP.OnlyFailed)
		case "clickhouse":
			w, err := summaryclickhouse.NewWriter(summaryclickhouse.Config{
				URL:      cfg.ClickHouse.URL,
				Database: cfg.ClickHouse.Database,
				Table:    cfg.ClickHouse.Table,
				Username: cfg.ClickHouse.Username,
				Password: cfg.ClickHouse.Password,
				Timeout:  cfg.ClickHouse.Timeout,
				Headers:  cfg.ClickHouse.Headers,
			})
			if err != nil {
				return fail(fmt.Errorf("clickhouse sink: %w", err))
			}
			out = append(out, w)
			logger.Infof("Output sink: clickhouse (%s/%s.%s)", cfg.ClickHouse.URL, cfg.ClickHouse.Database, cfg.ClickHouse.Table)
		case "sqlite":
			w, err := summarysqlite.New(cfg.SQLite.Path)
			if err != nil {
				return fail(fmt.Errorf("sqlite sink: %w", err))
			}
			out = append(out, w)
			logger.Infof("Output sink: sqlite (%s)", cfg.SQLite.Path)
		case "runstate":
			w, err := newRunState(cfg.RunState)
			if err != nil {
				return fail(fmt.Errorf("runstate sink: %w", err))
			}
			out = append(out, w)
			logger.Infof("Output sink: runstate (%s)", cfg.RunState.Addr)
		default:
			return fail(fmt.Errorf("unknown output sink: %s", sink))
		}
	}
	return out, nil
}
