// Command sibilant is the streaming speech recognition server.
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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxhollow/sibilant/internal/config"
	"github.com/voxhollow/sibilant/internal/eval"
	"github.com/voxhollow/sibilant/internal/head"
	"github.com/voxhollow/sibilant/internal/nn"
	"github.com/voxhollow/sibilant/internal/observe"
	"github.com/voxhollow/sibilant/internal/server"
	"github.com/voxhollow/sibilant/internal/session"
	"github.com/voxhollow/sibilant/internal/store"
	"github.com/voxhollow/sibilant/internal/vocab"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listenAddr := flag.String("listen", "", "override the configured listen address")
	randomWeights := flag.Bool("random-weights", false, "run with randomly initialised weights (development only)")
	seed := flag.Uint64("seed", 1, "seed for -random-weights")
	evalRef := flag.String("eval-ref", "", "reference text file: score -eval-hyp against it and exit")
	evalHyp := flag.String("eval-hyp", "", "hypothesis text file for -eval-ref")
	flag.Parse()

	if *evalRef != "" || *evalHyp != "" {
		return runEval(*evalRef, *evalHyp)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sibilant: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sibilant: %v\n", err)
		}
		return 1
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime without a restart.
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("sibilant starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sibilant",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Model weights ─────────────────────────────────────────────────────────
	var params nn.Params
	switch {
	case cfg.Model.WeightsFile != "":
		p, err := nn.LoadParams(cfg.Model.WeightsFile)
		if err != nil {
			slog.Error("failed to load weights", "file", cfg.Model.WeightsFile, "err", err)
			return 1
		}
		params = p
		slog.Info("weights loaded", "file", cfg.Model.WeightsFile)
	case *randomWeights:
		params = nn.NewRandomParams(*seed)
		slog.Warn("running with random weights — output is noise", "seed", *seed)
	default:
		slog.Error("no weights_file configured; pass -random-weights to run without one")
		return 1
	}

	// ── Vocabularies ──────────────────────────────────────────────────────────
	pickerVocab, err := vocab.Load(cfg.Picker.Vocabulary)
	if err != nil {
		slog.Error("failed to load picker vocabulary", "err", err)
		return 1
	}
	decoderVocab, err := vocab.Load(cfg.Decoder.Vocabulary)
	if err != nil {
		slog.Error("failed to load decoder vocabulary", "err", err)
		return 1
	}

	// ── Recognizer ────────────────────────────────────────────────────────────
	sessionCfg := cfg.Session()
	fusion, err := head.NewFusion(cfg.Decoder.Fusion, params, "decoder.fusion", cfg.Model.DModel)
	if err != nil {
		slog.Error("failed to build fusion", "kind", cfg.Decoder.Fusion, "err", err)
		return 1
	}
	rec, err := session.NewRecognizer(params, sessionCfg, pickerVocab, decoderVocab,
		session.WithLogger(logger),
		session.WithFusion(fusion),
	)
	if err != nil {
		slog.Error("failed to build recognizer", "err", err)
		return 1
	}
	slog.Info("recognizer ready",
		"picker_classes", cfg.Picker.NumClasses,
		"decoder_classes", cfg.Decoder.NumClasses,
		"latency_chunks", rec.LatencyChunks(),
	)

	// ── Transcript archive ────────────────────────────────────────────────────
	serverOpts := []server.Option{server.WithLogger(logger)}
	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate transcript schema", "err", err)
			return 1
		}
		archive := store.NewResilientStore(pg, store.BreakerConfig{}, logger)
		serverOpts = append(serverOpts, server.WithArchive(archive))
		slog.Info("transcript archive enabled")
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// Only the log level applies live; anything else needs a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(diff.NewLogLevel.Slog())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.RestartRequired {
			slog.Warn("config changed in ways that need a restart to apply")
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Serve ─────────────────────────────────────────────────────────────────
	srv := server.New(rec, serverOpts...)
	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx, cfg.Server.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runEval scores a hypothesis transcript against a reference and prints
// character and word error rates.
func runEval(refPath, hypPath string) int {
	if refPath == "" || hypPath == "" {
		fmt.Fprintln(os.Stderr, "sibilant: -eval-ref and -eval-hyp must be given together")
		return 2
	}
	ref, err := os.ReadFile(refPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sibilant: %v\n", err)
		return 1
	}
	hyp, err := os.ReadFile(hypPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sibilant: %v\n", err)
		return 1
	}
	report := eval.Score(string(hyp), string(ref))
	fmt.Printf("cer\t%.4f\nwer\t%.4f\n", report.CER, report.WER)
	return 0
}
