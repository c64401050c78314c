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

	"github.com/sirupsen/logrus"

	"pantry-gpt/extraction"
	"pantry-gpt/internal/cache"
	"pantry-gpt/internal/config"
	"pantry-gpt/internal/costguard"
	"pantry-gpt/internal/fallback"
	"pantry-gpt/internal/llmclient"
	"pantry-gpt/internal/ratelimit"
	"pantry-gpt/ocr"
	"pantry-gpt/pipeline"
)

const usage = "usage: pantry-gpt [serve | batch <directory>]"

var log = logrus.New()

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	settings, err := config.Load(settingsPath(os.LookupEnv), os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := initLogger(settings.LogLevel); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, settings)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Errorf("Error closing backends: %v", err)
		}
	}()

	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "serve":
		err = runServer(ctx, app)
	case "batch":
		if len(os.Args) < 3 {
			err = errors.New(usage)
			break
		}
		err = runBatch(ctx, app, os.Args[2])
	default:
		err = fmt.Errorf("unknown mode %q, %s", mode, usage)
	}
	if err != nil {
		log.Error(err)
		stop()
		os.Exit(1)
	}
}

// runServer serves the API and, when an inbox is configured, watches it.
func runServer(ctx context.Context, app *App) error {
	jobs := newJobQueue(newJobStore(), 100)
	jobs.Start(ctx, app, 1)

	if app.Settings.InboxDir != "" {
		log.Infof("Watching inbox %s", app.Settings.InboxDir)
		defaultInboxWatcher().Start(ctx, app)
	}

	srv := &http.Server{
		Addr:    app.Settings.ListenAddr,
		Handler: newRouter(app, jobs),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Server shutdown failed: %v", err)
		}
	}()

	log.Infof("Server started on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

// runBatch scans every image in dir and prints a summary.
func runBatch(ctx context.Context, app *App, dir string) error {
	paths, err := listImages(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		log.Warnf("No images found in %s", dir)
		return nil
	}
	summary, err := app.processBatch(ctx, paths, app.batchWorkers(), nil)
	if summary != nil {
		printSummary(os.Stdout, summary)
	}
	return err
}

// settingsPath returns SETTINGS_PATH, or the default settings file.
func settingsPath(lookup config.LookupFunc) string {
	if p, ok := lookup("SETTINGS_PATH"); ok && p != "" {
		return p
	}
	return config.DefaultSettingsPath
}

// parseLogLevel accepts the logrus level names. Empty means info.
func parseLogLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: '%s'", level)
	}
	return lvl, nil
}

func initLogger(level string) error {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return err
	}

	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Set log level for all packages
	config.SetLogLevel(lvl)
	cache.SetLogLevel(lvl)
	ratelimit.SetLogLevel(lvl)
	fallback.SetLogLevel(lvl)
	costguard.SetLogLevel(lvl)
	llmclient.SetLogLevel(lvl)
	ocr.SetLogLevel(lvl)
	extraction.SetLogLevel(lvl)
	pipeline.SetLogLevel(lvl)
	return nil
}
