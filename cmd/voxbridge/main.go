package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxbridge/voxbridge/pkg/engine"
	"github.com/voxbridge/voxbridge/pkg/logging"
	"github.com/voxbridge/voxbridge/pkg/metrics"
	"github.com/voxbridge/voxbridge/pkg/redact"
	"github.com/voxbridge/voxbridge/pkg/runner"
	"github.com/voxbridge/voxbridge/pkg/turns"
)

func main() {
	configPath := flag.String("config", "voxbridge.yaml", "path to config file")
	dialTo := flag.String("dial", "", "place an outbound call to this number on startup")
	flag.Parse()

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat))
	redact.SetEnabled(cfg.RedactPII)

	app, err := build(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup error:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	life := runner.NewLifecycleRunner(app.engine, runner.Hooks{
		OnStart: func() {
			go func() {
				if err := app.engine.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("engine_stopped", slog.String("error", err.Error()))
					stop()
				}
			}()
			if to := firstNonEmpty(*dialTo, cfg.Outbound.To); to != "" {
				go dial(ctx, app.engine, to, cfg.Outbound.From)
			}
		},
		OnStop: func() {
			_ = app.transportStop()
			app.observerClose()
		},
	}, 10*time.Second)

	if err := life.Run(ctx); err != nil {
		slog.Error("shutdown_error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type app struct {
	engine        *engine.Engine
	transportStop func() error
	observerClose func()
}

func build(cfg engine.Config) (*app, error) {
	tr, err := engine.BuildTransport(cfg.Transport)
	if err != nil {
		return nil, err
	}
	stt, err := engine.BuildTranscriber(cfg.Vendors.STT)
	if err != nil {
		return nil, err
	}
	llm, err := engine.BuildGenerator(cfg.Vendors.LLM)
	if err != nil {
		return nil, err
	}
	tts, err := engine.BuildSynthesizer(cfg.Vendors.TTS)
	if err != nil {
		return nil, err
	}
	clip, err := engine.LoadFallbackClip(cfg.Agent.FallbackClipPath)
	if err != nil {
		return nil, err
	}

	summary := metrics.NewSummaryObserver()
	observer := metrics.NewAsyncObserver(
		metrics.NewMultiObserver(metrics.NewLoggerObserver(slog.Default()), summary),
		cfg.Metrics.Buffer,
	)

	sender := turns.NewSender(tr, turns.SenderConfig{
		MaxStreamDuration: time.Duration(cfg.Turns.MaxStreamSeconds) * time.Second,
		Observer:          observer,
	})
	orch := turns.NewOrchestrator(stt, llm, tts, sender, observer, turns.Config{
		SystemPrompt: cfg.Agent.SystemPrompt,
		GreetingText: cfg.Agent.Greeting,
		FillerTokens: cfg.Agent.FillerTokens,
		Retry:        cfg.RetryPolicy(),
		FallbackClip: clip,
	})

	return &app{
		engine:        engine.New(cfg, tr, orch, observer),
		transportStop: tr.Stop,
		observerClose: func() {
			observer.Close()
			summary.LogSummary(slog.Default())
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func dial(ctx context.Context, e *engine.Engine, to, from string) {
	if from == "" {
		slog.Error("outbound_dial_skipped", slog.String("reason", "outbound.from not configured"))
		return
	}
	sid, err := e.Dial(ctx, to, from)
	if err != nil {
		slog.Error("outbound_dial_failed", slog.String("error", err.Error()))
		return
	}
	slog.Info("outbound_call_created", slog.String("call_sid", sid), slog.String("to", to))
}
