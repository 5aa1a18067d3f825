// main package for the openai-xunjie-tts gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/lizhe2004/openai-xunjie-tts/internal/archive"
	"github.com/lizhe2004/openai-xunjie-tts/internal/audio"
	"github.com/lizhe2004/openai-xunjie-tts/internal/config"
	"github.com/lizhe2004/openai-xunjie-tts/internal/observe"
	"github.com/lizhe2004/openai-xunjie-tts/internal/server"
	"github.com/lizhe2004/openai-xunjie-tts/internal/speech"
	"github.com/lizhe2004/openai-xunjie-tts/internal/voices"
	"github.com/lizhe2004/openai-xunjie-tts/internal/worker"
	"github.com/lizhe2004/openai-xunjie-tts/internal/xunjie"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	providerTimeout   = 10 * time.Second
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "openai-xunjie-tts.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process.
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration.
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration.
	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, log)
}

func runService(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics provider with Prometheus bridge for /metrics.
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "openai-xunjie-tts",
		ServiceVersion: "",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics provider: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(), providerTimeout,
		)
		defer shutdownCancel()

		flushErr := shutdownMetrics(shutdownCtx)
		if flushErr != nil {
			log.Warn("Failed to shut down metrics provider: %v", flushErr)
		}
	}()

	engine, mapper := buildEngine(cfg, log)

	natsConn, err := wireNATS(ctx, cfg, engine, log)
	if err != nil {
		return err
	}

	if natsConn != nil {
		defer natsConn.Close()
	}

	handler := server.NewHandler(cfg, engine, mapper, log)
	router := server.NewRouter(cfg, handler, observe.DefaultMetrics(), log)

	return serve(ctx, cfg, router, log)
}

// buildEngine assembles the synthesis pipeline from the configuration.
func buildEngine(cfg *config.Config, log *logger.Logger) (*speech.Engine, *voices.Mapper) {
	mapper := voices.NewMapper(log)
	mapper.LoadFile(cfg.Speech.VoiceMappingsPath)

	client := xunjie.NewClient(
		cfg.Upstream.BaseURL,
		time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second,
		log,
	)

	converter := audio.NewConverter(log)
	if !converter.FFmpegInstalled() {
		log.Warn("FFmpeg not found, non-mp3 formats will be delivered as mp3")
	}

	engine := speech.NewEngine(
		cfg, client, mapper, converter, observe.DefaultMetrics(), log,
	)
	engine.AddStore("local", archive.NewLocalStore(cfg.Archive.OutputDir, log))

	return engine, mapper
}

// wireNATS connects the optional messaging surface: an object store archive
// destination and a job worker. Both are enabled only when a NATS URL is
// configured.
func wireNATS(
	ctx context.Context,
	cfg *config.Config,
	engine *speech.Engine,
	log *logger.Logger,
) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}

	natsConn, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConn.JetStream()
	if err != nil {
		natsConn.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := archive.NewNatsStore(jetstreamContext, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConn.Close()

		return nil, fmt.Errorf("failed to create NATS archive store: %w", err)
	}

	engine.AddStore("nats", store)

	natsWorker := worker.NewNatsWorker(
		natsConn,
		cfg.NATS.SpeechRequestedSubject,
		store,
		engine,
		cfg.Server.APIKey,
		log,
	)

	go func() {
		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error("NATS worker stopped: %v", runErr)
		}
	}()

	log.System("NATS worker listening on subject %s", cfg.NATS.SpeechRequestedSubject)

	return natsConn, nil
}

// serve runs the HTTP server until a shutdown signal arrives.
func serve(
	ctx context.Context,
	cfg *config.Config,
	router http.Handler,
	log *logger.Logger,
) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)

	go func() {
		log.System("Listening on :%d", cfg.Server.Port)

		serveErr := srv.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-sigChan:
		log.System("Shutdown signal received, shutting down gracefully")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	log.System("Server stopped")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
