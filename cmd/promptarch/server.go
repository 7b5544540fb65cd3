package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/promptarchitect/studio/internal/api"
	"github.com/promptarchitect/studio/internal/auth"
	"github.com/promptarchitect/studio/internal/config"
	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/provider"
	"github.com/promptarchitect/studio/internal/storage"
	"github.com/promptarchitect/studio/internal/titles"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the promptarch server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running promptarch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show promptarch system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", true, "serve MCP tools over stdio alongside HTTP")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "promptarch.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// buildRegistry registers Ollama always and Gemini when it has an API key.
// A default provider that is not configured falls back to Ollama.
func buildRegistry(ctx context.Context, cfg config.Config) (*provider.Registry, *provider.OllamaClient, error) {
	ollama := provider.NewOllama(provider.OllamaConfig{
		BaseURL:             cfg.Ollama.BaseURL,
		Models:              cfg.Ollama.Models,
		DefaultModel:        cfg.Ollama.DefaultModel,
		Temperature:         cfg.Ollama.Temperature,
		GatewayClientID:     cfg.Ollama.GatewayClientID,
		GatewayClientSecret: cfg.Ollama.GatewayClientSecret,
	})
	providers := []provider.Provider{ollama}

	if cfg.Gemini.APIKey != "" {
		gemini, err := provider.NewGemini(ctx, provider.GeminiConfig{
			APIKey:       cfg.Gemini.APIKey,
			BaseURL:      cfg.Gemini.BaseURL,
			Models:       cfg.Gemini.Models,
			DefaultModel: cfg.Gemini.DefaultModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configuring gemini: %w", err)
		}
		providers = append(providers, gemini)
	}

	fallback, err := provider.ParseKind(cfg.Provider.Default)
	if err != nil {
		return nil, nil, err
	}
	if fallback == provider.Gemini && cfg.Gemini.APIKey == "" {
		slog.Warn("default provider gemini has no API key, falling back to ollama")
		fallback = provider.Ollama
	}
	return provider.NewRegistry(fallback, providers...), ollama, nil
}

func runServer(parent context.Context) error {
	fmt.Fprintf(os.Stderr, "promptarch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Log.Level))

	// Check if a server is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://%s/health", cfg.Addr())); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("promptarch is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on %s", cfg.Addr())
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, ollama, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("providers registered", "count", len(registry.Configured()), "default", registry.Fallback())
	if err := provider.EnsureReady(ctx, ollama, os.Stderr); err != nil {
		// Gemini may still serve requests; Ollama calls will report 503.
		printWarning("%v", err)
	}

	store, err := storage.Connect(ctx, storage.Options{
		Driver:  cfg.Storage.Driver,
		DataDir: cfg.Storage.DataDir,
		DSN:     cfg.Storage.DSN,
	})
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if versions, err := store.AppliedMigrations(ctx); err == nil {
		slog.Info("storage ready", "driver", store.Driver(), "migrations", len(versions))
	}

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Audience)
	if !verifier.Enabled() {
		slog.Warn("auth.jwt_secret is not set; every caller is anonymous and nothing is recorded")
	}

	svc := engineer.New(registry, store, engineer.Options{
		AutoTitle: cfg.Titles.AutoGenerate,
		Logger:    slog.Default(),
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewHandler(api.Deps{
			Engineer:   svc,
			Store:      store,
			Verifier:   verifier,
			CORSOrigin: cfg.Server.CORSOrigin,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "promptarch listening on %s\n", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Titles.AutoGenerate {
		if counts, err := store.JobCounts(ctx); err == nil && counts["pending"] > 0 {
			slog.Info("resuming title jobs", "pending", counts["pending"])
		}
		worker := titles.NewWorker(store, svc, 500*time.Millisecond)
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	if serveMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Engineer: svc,
			Store:    store,
			Actor:    cfg.MCP.Actor,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)", "actor", cfg.MCP.Actor)
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("promptarch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop promptarch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to promptarch (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c := newClientFor(cfg)
	status, err := c.Health(ctx)
	switch {
	case status == "":
		printStatus("Server", "stopped (%s)", serverURL(cfg))
	case err != nil:
		printStatus("Server", "%s at %s: %v", status, serverURL(cfg), err)
	default:
		printStatus("Server", "running at %s", serverURL(cfg))
	}

	if status != "" {
		if cat, err := c.Models(ctx); err == nil {
			for _, p := range cat {
				label := string(p.Provider)
				if p.Default {
					label += " (default)"
				}
				printStatus("Provider", "%s: %s [default model %s]", label, strings.Join(p.Models, ", "), p.DefaultModel)
			}
		}
	}

	ollama := provider.NewOllama(provider.OllamaConfig{
		BaseURL:             cfg.Ollama.BaseURL,
		GatewayClientID:     cfg.Ollama.GatewayClientID,
		GatewayClientSecret: cfg.Ollama.GatewayClientSecret,
	})
	if ollama.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not reachable at %s", cfg.Ollama.BaseURL)
	}
	if cfg.Gemini.APIKey != "" {
		printStatus("Gemini", "configured")
	} else {
		printStatus("Gemini", "no API key")
	}

	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
