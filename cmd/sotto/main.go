// Command sotto runs one live duplex voice session against a realtime
// provider, driven by file-backed audio devices: it streams the input WAV as
// microphone capture, plays agent speech into the output WAV, prints
// transcript messages and guidance signals as they close, and exits when the
// session ends or the process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/sotto-voice/sotto/internal/config"
	"github.com/sotto-voice/sotto/internal/guidance"
	"github.com/sotto-voice/sotto/internal/observe"
	"github.com/sotto-voice/sotto/internal/session"
	"github.com/sotto-voice/sotto/internal/transcript"
	"github.com/sotto-voice/sotto/pkg/audio/wavio"
	"github.com/sotto-voice/sotto/pkg/provider/live"
	"github.com/sotto-voice/sotto/pkg/provider/live/gemini"
	genailive "github.com/sotto-voice/sotto/pkg/provider/live/genai"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/example.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Best effort; a missing .env simply means the environment is already set.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "sotto",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("init telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
		slog.Info("metrics endpoint up", "addr", addr)
	}

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("init metrics", "err", err)
		return 1
	}

	provider, err := buildProvider(cfg.Provider)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sessCfg := live.SessionConfig{
		Model:               cfg.Provider.Model,
		Voice:               cfg.Provider.Voice,
		Instructions:        cfg.Session.Instructions,
		InputTranscription:  true,
		OutputTranscription: true,
	}
	if cfg.Mode == config.ModeSilentMonitor {
		name, desc, params := guidance.ToolDeclaration()
		sessCfg.Tools = []live.ToolDefinition{{Name: name, Description: desc, Parameters: params}}
	}

	ctrl := session.New(session.Config{
		Mode:          cfg.Mode,
		Provider:      provider,
		Device:        wavio.NewDevice(cfg.Audio.InputWAV, cfg.Audio.OutputWAV),
		Session:       sessCfg,
		FrameDuration: time.Duration(cfg.Audio.FrameMS) * time.Millisecond,
		HalfDuplex:    cfg.Audio.HalfDuplex,
		Metrics:       metrics,
		OnTranscript: func(m transcript.Message) {
			fmt.Printf("[%s] %s\n", m.Role, m.Text)
		},
		OnSignal: func(sig guidance.Signal) {
			fmt.Printf("guidance: level=%s trend=%s reason=%q hint=%q\n",
				sig.Level, sig.Trend, sig.Reason, sig.Hint)
		},
		OnStatus: func(st session.State, cause string) {
			if cause != "" {
				slog.Info("session status", "state", st, "cause", cause)
				return
			}
			slog.Debug("session status", "state", st)
		},
	})

	if err := ctrl.Start(ctx); err != nil {
		slog.Error("session start failed", "err", err)
		return 1
	}

	// Run until the transport ends the session or the process is signalled.
	select {
	case <-ctx.Done():
		slog.Info("interrupt received, stopping session")
		if err := ctrl.Stop(); err != nil {
			slog.Warn("stop", "err", err)
		}
	case <-ctrl.Done():
	}
	<-ctrl.Done()

	if msgs := ctrl.Transcript(); len(msgs) > 0 {
		fmt.Println("--- transcript ---")
		for _, m := range msgs {
			fmt.Printf("%s  [%s] %s\n", m.At.Format(time.TimeOnly), m.Role, m.Text)
		}
	}

	if ctrl.State() == session.StateDropped {
		return 1
	}
	return 0
}

// buildProvider selects the transport implementation named in cfg.
func buildProvider(cfg config.ProviderConfig) (live.Provider, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, errors.New("no API key: set provider.api_key or GEMINI_API_KEY")
	}

	switch cfg.Name {
	case "gemini-live":
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(key, opts...), nil
	case "genai-live":
		return genailive.New(key), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
