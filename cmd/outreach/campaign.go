package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"outreach/internal/app"
	"outreach/internal/config"
	"outreach/internal/domain"
	"outreach/internal/repo"
	"outreach/internal/server"
	"outreach/internal/source"
)

func runCmd() *cobra.Command {
	var (
		targetsPath    string
		campaignCtx    string
		maxMessages    int
		baseDelay      time.Duration
		csvType        string
		filterKeywords string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a campaign over a target list in the foreground",
		Long:  "Run contacts every target in the CSV once. Interrupt (Ctrl-C) stops after the current step; already contacted targets are skipped on the next run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("context") {
				cfg.Campaign.Context = campaignCtx
			}
			if flags.Changed("max-messages") {
				cfg.Campaign.MaxMessages = maxMessages
			}
			if flags.Changed("base-delay") {
				cfg.Campaign.BaseDelay = config.Duration(baseDelay)
			}
			if flags.Changed("csv-type") {
				cfg.Campaign.CSVType = csvType
			}
			if flags.Changed("filter-keywords") {
				cfg.Campaign.FilterKeywords = filterKeywords
			}
			warnings = append(warnings, cfg.Normalize()...)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.ValidateCredentials(); err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()
			for _, w := range warnings {
				log.Warn(w)
			}

			targets, err := source.Load(targetsPath, source.Options{
				Type:     cfg.Campaign.CSVType,
				Keywords: cfg.Campaign.FilterKeywords,
				Logger:   log,
			})
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return fmt.Errorf("%s has no usable targets", targetsPath)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			store, err := repo.Open(ctx, workspace())
			if err != nil {
				return err
			}
			defer store.Close()

			launcher := &app.Launcher{Store: store, Logger: log}
			summary, runErr := launcher.RunSync(ctx, app.Request{
				Config:    cfg,
				Targets:   targets,
				InputName: filepath.Base(targetsPath),
			})
			if viper.GetBool("json") {
				if err := printJSON(summary); err != nil {
					return err
				}
			} else {
				printSummary(summary)
			}
			if status, _ := app.RunStatus(runErr); status == "failed" {
				return runErr
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetsPath, "targets", "t", "", "target list CSV")
	cmd.Flags().StringVar(&campaignCtx, "context", "", "campaign context passed to the message generator")
	cmd.Flags().IntVar(&maxMessages, "max-messages", 0, "stop after this many targets are attempted, counting skips and failures (0 = all)")
	cmd.Flags().DurationVar(&baseDelay, "base-delay", 0, "base delay between sends (raised to the configured floor)")
	cmd.Flags().StringVar(&csvType, "csv-type", "", "list or followers")
	cmd.Flags().StringVar(&filterKeywords, "filter-keywords", "", "comma-separated display name keywords (followers lists)")
	_ = cmd.MarkFlagRequired("targets")
	return cmd
}

func printSummary(s domain.RunSummary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("Run " + s.RunID)
	tw.AppendHeader(table.Row{"Available", "Attempted", "Sent", "Failed", "Skipped", "Duration", "Aborted"})
	tw.AppendRow(table.Row{
		s.Available, s.Attempted, s.Sent, s.Failed, s.Skipped,
		(time.Duration(s.DurationMs) * time.Millisecond).Round(time.Second), s.Aborted,
	})
	if s.FatalCause != "" {
		tw.AppendFooter(table.Row{"Stopped", s.FatalCause})
	}
	tw.Render()
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for launching and inspecting campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()
			for _, w := range warnings {
				log.Warn(w)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			store, err := repo.Open(ctx, workspace())
			if err != nil {
				return err
			}
			defer store.Close()
			if n, err := store.MarkStaleRuns(ctx, time.Now().UTC().Format(time.RFC3339)); err != nil {
				return err
			} else if n > 0 {
				log.Warn("marked runs left over from a previous process as failed", zap.Int64("runs", n))
			}

			launcher := &app.Launcher{Store: store, Logger: log}
			handler, err := server.New(server.Config{
				Launcher:   launcher,
				Base:       cfg,
				BasePath:   cfg.Server.BasePath,
				UploadDir:  cfg.Server.UploadDir,
				Auth:       server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
				Logger:     log,
				RunContext: ctx,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Outreach API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			launcher.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:3000", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}
