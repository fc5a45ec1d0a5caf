package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ritzau/mindmap/pkg/assistant"
	"github.com/ritzau/mindmap/pkg/config"
	"github.com/ritzau/mindmap/pkg/logging"
	"github.com/ritzau/mindmap/pkg/watcher"
	"github.com/ritzau/mindmap/pkg/web"
)

func main() {
	flags := pflag.NewFlagSet("mindmap", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Verbosity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.Configure(os.Stdout, logging.VerboseLevel(level, cfg.VerboseCnt), cfg.JSONLogs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var asst web.Assistant
	if cfg.Assistant.Enabled() {
		asst = assistant.New(assistant.Config{
			BaseURL: cfg.Assistant.BaseURL,
			Model:   cfg.Assistant.Model,
			APIKey:  cfg.Assistant.APIKey,
		})
		logging.Info("assistant enabled", "model", cfg.Assistant.Model, "baseURL", cfg.Assistant.BaseURL)
	} else {
		logging.Info("no assistant API key, turns are fed through the API only")
	}

	server := web.NewServer(cfg.Options(), asst)

	if cfg.Watch {
		load := func() (*config.Config, error) { return config.Load(flags) }
		apply := func(c *config.Config) { server.Session().Reconfigure(c.Options()) }
		if err := watcher.Watch(ctx, []string{cfg.File}, load, apply); err != nil {
			logging.Warn("config watch disabled", "path", cfg.File, "error", err)
		}
	}

	if cfg.Open {
		url := fmt.Sprintf("http://localhost:%d", cfg.Port)
		go func() {
			// Wait a moment for server to start
			time.Sleep(500 * time.Millisecond)
			openBrowser(url)
		}()
	}

	if err := server.Start(ctx, cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server failed", "error", err)
	}
	logging.Info("server stopped")
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		logging.Warn("cannot open browser on platform", "os", runtime.GOOS)
		return
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		logging.Warn("failed to open browser", "error", err)
	}
}
