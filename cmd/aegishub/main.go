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

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aegishub/aegishub-go/internal/api"
	"github.com/aegishub/aegishub-go/internal/auth"
	"github.com/aegishub/aegishub-go/internal/config"
	"github.com/aegishub/aegishub-go/internal/dispatch"
	"github.com/aegishub/aegishub-go/internal/lifecycle"
	"github.com/aegishub/aegishub-go/internal/logging"
	"github.com/aegishub/aegishub-go/internal/mobile"
	"github.com/aegishub/aegishub-go/internal/seed"
	"github.com/aegishub/aegishub-go/internal/store"
	"github.com/aegishub/aegishub-go/internal/triage"
	"github.com/aegishub/aegishub-go/internal/workload"
	"github.com/aegishub/aegishub-go/pkg/audit"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "aegishub",
	Short:   "AegisHub - emergency response coordination service",
	Long:    `AegisHub coordinates SOS intake, triage, responder assignment and mobile ticket dispatch for emergency operations.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("AegisHub %s\n", Version)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Printf("Git commit: %s\n", GitCommit)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the demo fleet and accounts into the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		s, err := store.Open(cfg.DatabasePath())
		if err != nil {
			return err
		}
		defer s.Close()

		if err := seed.Apply(cmd.Context(), s); err != nil {
			return err
		}
		fmt.Println("Seed data applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(seedCmd)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Format:   cfg.LogFormat,
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile,
	})
	defer logging.Shutdown()

	log.Info().Str("version", Version).Msg("Starting AegisHub")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer s.Close()

	audit.SetLogger(store.NewAuditLogger(s))
	defer audit.Close()

	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret)
	if err != nil {
		return err
	}

	var classifier triage.Classifier
	if cfg.GeminiAPIKey != "" {
		classifier = triage.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, "")
	}
	triageSvc := triage.NewService(classifier)

	var transcriber mobile.Transcriber
	if cfg.GeminiAPIKey != "" {
		transcriber = mobile.NewGeminiTranscriber(cfg.GeminiAPIKey, cfg.GeminiModel, "")
	}

	coordinator := lifecycle.NewCoordinator(s, cfg.AssignmentWindow)
	pipeline := mobile.NewPipeline(s, triageSvc, mobile.NewOpenMeteoVerifier(""), transcriber, nil,
		cfg.DuplicateRadiusM, cfg.DuplicateWindow)
	worker := dispatch.NewWorker(s, dispatch.NewHTTPSink(cfg.TicketEndpoint, cfg.TicketEndpointToken),
		cfg.DispatchMaxAttempts, cfg.DispatchBackoff)
	reconciler := workload.NewReconciler(s)

	handler := api.NewRouter(cfg, s, issuer, coordinator, pipeline, worker, triageSvc)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coordinator.RunSweeper(ctx)
	})
	g.Go(func() error {
		return reconciler.Run(ctx)
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Str("listen", cfg.Listen).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("AegisHub stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
