package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"weave/internal/app"
	"weave/internal/domain"
	"weave/internal/pipeline"
	"weave/internal/repo"
	"weave/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the pipeline workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := app.NewLogger(cfg, viper.GetBool("verbose"))
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			hooks := server.NewWebhookDispatcher(cfg.Webhooks, logger)
			go hooks.Run(ctx)

			a, err := app.Build(ctx, app.Options{
				Workspace:    viper.GetString("workspace"),
				Config:       cfg,
				GeminiAPIKey: viper.GetString("gemini-api-key"),
				Logger:       logger,
				OnOutcome:    hooks.Notify,
			})
			if err != nil {
				return err
			}
			// Workers outlive the signal so Close can drain queued jobs.
			a.Queue.Start(context.WithoutCancel(ctx))
			requeuePending(ctx, a)

			handler, err := server.New(server.Config{
				App:            a,
				BasePath:       basePath,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				Auth:           server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: logger},
			})
			if err != nil {
				a.Close()
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving Weave API",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Bool("auth", viper.GetString("jwt-secret") != ""))
			fmt.Printf("Serving Weave API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			serveErr := srv.ListenAndServe()
			cancel()
			if err := a.Close(); err != nil {
				logger.Warn("shutdown", zap.Error(err))
			}
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return serveErr
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret; when set, mutations require a bearer token")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// requeuePending schedules issues left pending or mid-analysis by a previous
// run.
func requeuePending(ctx context.Context, a *app.App) {
	queued := 0
	for _, status := range []string{domain.IssueStatusPending, domain.IssueStatusAnalyzing} {
		issues, err := a.Repo.ListIssues(ctx, repo.IssueFilters{Status: status})
		if err != nil {
			a.Log.Warn("list issues to requeue", zap.String("status", status), zap.Error(err))
			continue
		}
		for _, issue := range issues {
			if _, analyzed := issue.Metadata["analyzed_at"]; analyzed && status == domain.IssueStatusPending {
				// Classified as invalid; stays pending until edited.
				continue
			}
			if err := a.Queue.Enqueue(issue.ID); err != nil {
				if errors.Is(err, pipeline.ErrQueueFull) {
					a.Log.Warn("queue full while requeueing issues", zap.Int("queued", queued))
					return
				}
				a.Log.Warn("requeue issue", zap.String("issue_id", issue.ID), zap.Error(err))
				continue
			}
			queued++
		}
	}
	if queued > 0 {
		a.Log.Info("requeued unfinished issues", zap.Int("count", queued), zap.Int("pending", a.Queue.Pending()))
	}
}
