// Command charlie runs the Charlie voice agent: it sits in a Discord voice
// channel, listens to everyone, and answers when spoken to by name.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/floomby/charlie/internal/config"
	"github.com/floomby/charlie/internal/convo"
	discordbot "github.com/floomby/charlie/internal/discord"
	"github.com/floomby/charlie/internal/dispatch"
	"github.com/floomby/charlie/internal/health"
	"github.com/floomby/charlie/internal/observe"
	"github.com/floomby/charlie/internal/respond"
	"github.com/floomby/charlie/pkg/provider/llm"
	"github.com/floomby/charlie/pkg/provider/llm/anyllm"
	"github.com/floomby/charlie/pkg/provider/llm/openai"
	"github.com/floomby/charlie/pkg/provider/stt/whisper"
	"github.com/floomby/charlie/pkg/provider/tts"
	"github.com/floomby/charlie/pkg/provider/tts/ttsd"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// cannedLines are the filler phrases synthesized once at startup and played
// while a slow answer is being produced.
var cannedLines = map[dispatch.CannedKind]string{
	dispatch.CannedThinking:        "Give me a moment to think about that.",
	dispatch.CannedCheckingSensors: "Hold on, let me check the sensors.",
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "charlie: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "charlie: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("charlie starting",
		"version", version,
		"config", *configPath,
		"agent", cfg.Agent.Name,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "charlie",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	llmProvider, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	sttProvider, err := whisper.New(cfg.Providers.STT.Model, whisperOptions(cfg.Providers.STT)...)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	defer sttProvider.Close()
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	voiceName := optString(cfg.Providers.TTS.Options, "voice")
	var ttsOpts []ttsd.Option
	if voiceName != "" {
		ttsOpts = append(ttsOpts, ttsd.WithVoice(voiceName))
	}
	ttsClient, err := ttsd.Dial(ctx, cfg.Providers.TTS.BaseURL, ttsOpts...)
	if err != nil {
		slog.Error("failed to connect to speech daemon", "err", err)
		return 1
	}
	defer ttsClient.Close()
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	// ── Canned responses ──────────────────────────────────────────────────────
	canned := dispatch.NewLibrary()
	prepareCanned(ctx, ttsClient, canned)

	// ── Conversation logs ─────────────────────────────────────────────────────
	summarizer := convo.NewLLMSummarizer(llmProvider)
	liveLog := convo.NewLog(summarizer, convo.WithMetrics(metrics))
	latentLog := convo.NewLog(summarizer, convo.WithMetrics(metrics))
	daemon := convo.NewDaemon(liveLog, latentLog,
		convo.WithInterval(time.Duration(cfg.Agent.SummarizeIntervalMin)*time.Minute))
	daemon.Start(ctx)
	defer daemon.Stop()

	// ── Discord ───────────────────────────────────────────────────────────────
	bot, err := discordbot.NewBot(cfg.Discord.Token, cfg.Discord.GuildID)
	if err != nil {
		slog.Error("failed to connect to Discord", "err", err)
		return 1
	}
	defer bot.Close()
	slog.Info("discord connected", "guild_id", cfg.Discord.GuildID)

	voice := discordbot.NewVoice(bot.Session(), cfg.Discord.GuildID, cfg.Discord.ChannelID,
		cfg.Agent.Name, sttProvider, nil, latentLog,
		discordbot.WithDebounceWindow(time.Duration(cfg.Agent.DebounceMs)*time.Millisecond),
		discordbot.WithVoiceLogger(logger),
		discordbot.WithVoiceMetrics(metrics),
	)
	defer voice.Close()

	player, err := discordbot.NewPlayer(voice, discordbot.WithPlayerLogger(logger))
	if err != nil {
		slog.Error("failed to create player", "err", err)
		return 1
	}

	// ── Playback pipeline ─────────────────────────────────────────────────────
	bridge := dispatch.NewBridge(ttsClient, voiceName, logger)
	scheduler := dispatch.NewScheduler(dispatch.Config{
		Synthesizer: bridge,
		Player:      player,
		Canned:      canned,
		LiveLog:     liveLog,
		AgentName:   cfg.Agent.Name,
	},
		dispatch.WithPollInterval(time.Duration(cfg.Pipeline.PollIntervalMs)*time.Millisecond),
		dispatch.WithStallTimeout(time.Duration(cfg.Pipeline.StallTimeoutSec)*time.Second),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
	)

	responder := respond.New(llmProvider, scheduler, liveLog, latentLog, cfg.Agent.Name,
		respond.WithLogger(logger),
		respond.WithMetrics(metrics),
	)
	voice.SetResponder(responder)

	discordbot.RegisterStatusCommand(bot.Router(), voice, scheduler)

	// ── Ops endpoints ─────────────────────────────────────────────────────────
	ops := health.NewServer(cfg.OpsListenAddr, health.NewHandler(
		health.Checker{Name: "discord", Check: func(context.Context) error {
			if bot.Session().HeartbeatLatency() <= 0 {
				return errors.New("gateway heartbeat not established")
			}
			return nil
		}},
		health.Checker{Name: "voice", Check: func(context.Context) error {
			if !voice.Connected() {
				return errors.New("voice connection down")
			}
			return nil
		}},
	), logger)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error { return voice.Run(gctx) })
	g.Go(func() error { scheduler.Run(gctx); return nil })
	g.Go(func() error { bridge.Pump(gctx, scheduler); return nil })
	g.Go(func() error { return ops.Run(gctx) })

	slog.Info("charlie ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildLLM creates the configured chat completion provider. The "openai"
// entry uses the official client; every other name goes through the any-llm
// multiplexer.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

func whisperOptions(entry config.ProviderEntry) []whisper.Option {
	var opts []whisper.Option
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if ms, ok := entry.Options["silence_threshold_ms"].(int); ok && ms > 0 {
		opts = append(opts, whisper.WithSilenceThresholdMs(ms))
	}
	return opts
}

// prepareCanned synthesizes the filler phrases through the speech daemon and
// registers the resulting PCM. Runs before the bridge starts consuming
// results, so the replies here are ours alone. A kind that fails to
// synthesize is skipped; playing it later is a logged no-op.
func prepareCanned(ctx context.Context, client *ttsd.Client, canned *dispatch.Library) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pending := make(map[string]dispatch.CannedKind, len(cannedLines))
	for kind, text := range cannedLines {
		nonce := "canned:" + string(kind)
		if err := client.Synthesize(ctx, tts.Request{Nonce: nonce, Text: text}); err != nil {
			slog.Warn("canned synthesis submit failed", "kind", kind, "err", err)
			continue
		}
		pending[nonce] = kind
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			slog.Warn("canned synthesis timed out", "missing", len(pending))
			return
		case res, ok := <-client.Results():
			if !ok {
				slog.Warn("speech daemon closed during canned synthesis")
				return
			}
			kind, mine := pending[res.Nonce]
			if !mine {
				continue
			}
			delete(pending, res.Nonce)
			if res.Err != nil {
				slog.Warn("canned synthesis failed", "kind", kind, "err", res.Err)
				continue
			}
			if err := canned.Register(kind, cannedLines[kind], res.PCM); err != nil {
				slog.Warn("canned registration failed", "kind", kind, "err", err)
			}
		}
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// optString extracts a string from a provider Options map. Returns "" when
// the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
