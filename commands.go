package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"ai-news/internal/handler"
	"ai-news/internal/scheduler"
	"ai-news/internal/service"
)

// withApp 加载配置、打开数据库,SIGINT/SIGTERM 时取消 ctx
func withApp(configPath *string, run func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, *configPath)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, a, cmd)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(configPath *string) *cobra.Command {
	var noCron bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the cron scheduler",
	}
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "serve the API without scheduled jobs")

	cmd.RunE = withApp(configPath, func(ctx context.Context, a *app, _ *cobra.Command) error {
		if err := a.cfg.RequireLLM(); err != nil {
			a.logger.Warn("AI credentials missing, filter and summarize jobs will fail", "error", err)
		}

		gin.SetMode(a.cfg.Server.Mode)
		r := gin.New()
		r.Use(gin.Recovery(), handler.RequestLogger(a.logger))

		// 注册路由
		h := handler.NewHandler(a.db, handler.Services{
			Feed:      a.feed,
			LLM:       a.llm,
			Processor: a.processor,
			Purge:     a.purge,
			Storage:   a.storage,
			Articles:  a.articles,
			Status:    a.status,
		}, a.registry, a.logger)
		h.RegisterRoutes(r)

		// 启动定时任务
		if !noCron {
			sched := scheduler.NewScheduler(a.feed, a.processor, a.purge, a.storage, a.cfg.Cron, a.logger)
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()
			h.SetScheduler(sched)
		}

		srv := &http.Server{
			Addr:              a.cfg.GetServerAddress(),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return cmd
}

func newRunCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run fetch, filter, summarize, purge and monitor once",
	}
	cmd.Flags().BoolVar(&force, "force", false, "fetch every active source regardless of its interval")

	cmd.RunE = withApp(configPath, func(ctx context.Context, a *app, cmd *cobra.Command) error {
		if err := a.requireLLM(); err != nil {
			return err
		}
		report, err := a.pipeline.RunOnce(ctx, force)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	})
	return cmd
}

func newFetchCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch due RSS sources",
	}
	cmd.Flags().BoolVar(&force, "force", false, "fetch every active source regardless of its interval")

	cmd.RunE = withApp(configPath, func(ctx context.Context, a *app, cmd *cobra.Command) error {
		report, err := a.feed.FetchAllFeeds(ctx, force)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	})
	return cmd
}

func newFilterCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "filter",
		Short: "Classify raw articles by language and relevance",
		RunE: withApp(configPath, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			if err := a.requireLLM(); err != nil {
				return err
			}
			report, err := a.filter.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}

func newSummarizeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize",
		Short: "Summarize approved articles",
		RunE: withApp(configPath, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			if err := a.requireLLM(); err != nil {
				return err
			}
			report, err := a.summarize.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}

func newPurgeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Apply the retention bounds",
		RunE: withApp(configPath, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			report, err := a.purge.Run(ctx, time.Now())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}

func newMonitorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Measure storage usage and record a snapshot (exit code 2 when critical)",
		RunE: withApp(configPath, func(ctx context.Context, a *app, cmd *cobra.Command) error {
			report, err := a.storage.Record(ctx, time.Now())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Level == service.LevelCritical {
				return &exitError{code: 2, err: fmt.Errorf("storage usage critical: %.2f%% of %d bytes", report.UsagePercent, report.LimitBytes)}
			}
			return nil
		}),
	}
}
