package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type healthz struct {
	Status    string `json:"status"`
	Running   bool   `json:"running"`
	LastRunID string `json:"last_run_id,omitempty"`
	LastRunAt string `json:"last_run_at,omitempty"`
	Succeeded int    `json:"succeeded"`
	Warnings  int    `json:"warnings"`
	Failed    int    `json:"failed"`
	Retryable int    `json:"retryable"`
	Timestamp string `json:"timestamp"`
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run passes on the configured schedule and serve /healthz",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		logger := a.logger

		cl := cronLogger{logger: logger}
		c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
		if _, err := c.AddFunc(a.cfg.Sync.Schedule, func() { a.pipeline.Run(ctx) }); err != nil {
			return err
		}
		logger.Info("Starting scheduler", zap.String("schedule", a.cfg.Sync.Schedule))
		c.Start()

		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("Health check requested")
			st := a.pipeline.Status()
			resp := healthz{
				Status:    "running",
				Running:   st.Running,
				LastRunID: st.LastRunID,
				Succeeded: st.Succeeded,
				Warnings:  st.Warnings,
				Failed:    st.Failed,
				Retryable: st.Retryable,
				Timestamp: time.Now().Format(time.RFC3339),
			}
			if !st.LastRunAt.IsZero() {
				resp.LastRunAt = st.LastRunAt.Format(time.RFC3339)
			}
			if st.Failed > 0 {
				resp.Status = "degraded"
			}
			b, _ := json.Marshal(resp)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(b)
		})
		server := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: mux}
		logger.Info("Starting HTTP server", zap.String("addr", a.cfg.HTTP.Addr))
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", zap.Error(err))
			}
		}()

		<-ctx.Done()
		logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}

		// Wait for a running pass; it sees the cancelled context between steps.
		select {
		case <-c.Stop().Done():
			logger.Info("Scheduler stopped")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached, forcing exit")
		}
		logger.Info("Shutdown complete")
		return nil
	},
}
