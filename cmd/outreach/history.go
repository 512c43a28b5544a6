package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"outreach/internal/config"
	"outreach/internal/repo"
)

func historyCmd() *cobra.Command {
	var f repo.OutcomeFilters
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded outcomes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Backend != config.BackendSQLite {
				return fmt.Errorf("history reads the workspace database; outcomes for backend %q live in %s", cfg.Store.Backend, cfg.Store.Firestore.Collection)
			}
			store, err := repo.Open(cmd.Context(), workspace())
			if err != nil {
				return err
			}
			defer store.Close()
			items, err := store.ListOutcomes(cmd.Context(), f)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Time", "Action", "Recipient", "Stage", "Reason", "Message"})
			for _, o := range items {
				tw.AppendRow(table.Row{o.ID, o.Timestamp, o.Action, o.Recipient, o.Stage, o.Reason, truncate(o.Message, 60)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&f.RunID, "run", "", "run id filter")
	cmd.Flags().StringVar(&f.Recipient, "recipient", "", "recipient handle filter")
	cmd.Flags().StringVar(&f.Action, "action", "", "contacted or failed")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 50, "number of records")
	return cmd
}

func runsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent campaign runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := repo.Open(cmd.Context(), workspace())
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(runs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Status", "Started", "Input", "Sent", "Failed", "Skipped"})
			for _, r := range runs {
				tw.AppendRow(table.Row{r.ID, r.Status, r.StartedAt, r.InputName, r.Summary.Sent, r.Summary.Failed, r.Summary.Skipped})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of runs")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect outreach.yml",
		Long:  "Config covers campaign defaults, pacing, the outcome store backend, the messaging gateway, the content generator, notifications, the API server and logging. Flags and OUTREACH_* variables override the file.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			masked := cfg.Clone()
			for _, s := range []*string{&masked.Messaging.SessionID, &masked.Generator.APIKey, &masked.Server.JWTSecret} {
				if *s != "" {
					*s = "********"
				}
			}
			if viper.GetBool("json") {
				return printJSON(masked)
			}
			out, err := yaml.Marshal(masked)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	var credentials bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := loadConfig()
			if err == nil {
				err = cfg.Validate()
			}
			if err == nil && credentials {
				err = cfg.ValidateCredentials()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err), "warnings": warnings})
			}
			for _, w := range warnings {
				fmt.Println("warning:", w)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().BoolVar(&credentials, "credentials", false, "also require session, API key and campaign context")
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default outreach.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(workspace())
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
