// relcut cuts, signs, and publishes a project release from a clean
// working tree.
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
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relcut/internal/apperrors"
	"relcut/internal/config"
	"relcut/internal/console"
	"relcut/internal/environment/docker"
	"relcut/internal/execx"
	"relcut/internal/gate"
	"relcut/internal/gitrepo"
	"relcut/internal/observability"
	"relcut/internal/pipeline"
	"relcut/internal/publish"
	"relcut/internal/release"
)

var (
	configPath string
	repoDir    string
	parallel   bool
)

// errUsage marks command-line mistakes so they exit with code 2 instead
// of the code reserved for release failures.
var errUsage = errors.New("invalid usage")

func versionArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return fmt.Errorf("%w: %s", errUsage, err)
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:          "relcut <version>",
	Short:        "Cut, sign, and publish a project release",
	Long:         "relcut runs the release pipeline: it validates the target version,\nchecks the release preconditions, builds and tests the project in\nisolated environments, signs every artifact, and publishes after an\ninteractive confirmation.",
	Args:         versionArg,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelease(cmd.Context(), args[0])
	},
}

var checkCmd = &cobra.Command{
	Use:          "check <version>",
	Short:        "Run the version and precondition checks without side effects",
	Args:         versionArg,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "release.yaml", "release descriptor path, relative to the repository")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", ".", "repository to cut the release from")
	rootCmd.Flags().BoolVar(&parallel, "parallel", false, "build matrix environments concurrently")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %s", errUsage, err)
	})
	rootCmd.AddCommand(checkCmd)
}

func main() {
	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		slog.Error("Release failed", "error", err, "kind", apperrors.Kind(err))
		os.Exit(1)
	}
}

func setupLogging() {
	var handler slog.Handler
	if config.GetEnv("LOG_FORMAT", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoDir, path)
	}
	cfg, err := config.Load(path, repoDir)
	if err != nil {
		return nil, err
	}
	cfg.Parallel = parallel
	return cfg, nil
}

func runCheck(ctx context.Context, target string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	current, err := release.CurrentVersion(cfg.Path(cfg.VersionFile))
	if err != nil {
		return err
	}
	if err := release.ValidateTarget(current, target); err != nil {
		return err
	}
	repo := gitrepo.NewCLI(cfg.RepoDir)
	if _, err := gate.New(cfg, repo).Check(ctx, target); err != nil {
		return err
	}

	fmt.Printf("Release %s is ready to cut\n", target)
	return nil
}

func runRelease(ctx context.Context, target string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if cfg.MetricsPort != "" {
		handler, err := startMetricsServer(ctx, cfg.MetricsPort, &metrics)
		if err != nil {
			return err
		}
		defer handler()
	}

	builder, err := docker.NewBuilder(ctx)
	if err != nil {
		return err
	}
	defer builder.Close()
	slog.Info("Connected to Docker daemon")

	repo := gitrepo.NewCLI(cfg.RepoDir)
	runner := execx.Local{}

	coordinator := &publish.Coordinator{
		Project:    cfg.Project,
		Repo:       repo,
		Runner:     runner,
		Repository: cfg.Upload.Repository,
	}
	if cfg.Mirror.Endpoint != "" {
		mirror, err := publish.NewMinioMirror(cfg.Mirror)
		if err != nil {
			return err
		}
		coordinator.Mirror = mirror
	}
	if cfg.Announce.URL != "" {
		coordinator.Announce = publish.NewAnnouncer(cfg.Announce)
	}

	p := &pipeline.Pipeline{
		Config:        cfg,
		Repo:          repo,
		Preconditions: gate.New(cfg, repo),
		Builder:       builder,
		Runner:        runner,
		Console:       console.NewGate(os.Stdin, os.Stdout),
		Publisher:     coordinator,
		Metrics:       metrics,
	}

	result, err := p.Run(ctx, target)
	if err != nil {
		return err
	}
	if result.Declined {
		fmt.Printf("Release %s declined; staged artifacts kept for inspection\n", target)
		return nil
	}

	fmt.Printf("Release %s published (%d artifacts)\n", target, len(result.Artifacts))
	return nil
}

// startMetricsServer serves /metrics for the duration of the run and
// returns its shutdown function.
func startMetricsServer(ctx context.Context, port string, metrics **observability.Metrics) (func(), error) {
	m, handler, err := observability.NewMetrics(ctx)
	if err != nil {
		return nil, err
	}
	*metrics = m

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", handler)
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting metrics server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}, nil
}
