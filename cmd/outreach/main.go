package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"outreach/internal/config"
	"outreach/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Outreach campaign runner",
	Long: `Outreach sends one personalized direct message to each account in a target list.
- Target list: a CSV export with a username column (or user/usuario); followers exports can be filtered by display name keywords.
- Run: for each target, skip if already contacted, resolve the account, generate a short message, send it, record the outcome.
- Outcomes: every contacted and failed attempt is stored, so rerunning the same list never messages anyone twice.
- Pacing: sends are spaced by the base delay plus random jitter; rate limits and account challenges pause or stop the run.
- Workspace: holds outreach.yml and the .outreach database with outcomes, runs and events.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OUTREACH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.StringP("config", "c", "", "config file (default <workspace>/outreach.yml)")
	flags.Bool("json", false, "output JSON")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("session-id", "", "messaging gateway session id")
	flags.String("proxy", "", "proxy URL for the messaging gateway")
	flags.String("gateway-url", "", "messaging gateway base URL")
	flags.String("generator-api-key", "", "content generator API key")
	flags.String("jwt-secret", "", "HMAC secret for API bearer tokens")
	for _, name := range []string{
		"workspace", "config", "json", "verbose", "session-id", "proxy",
		"gateway-url", "generator-api-key", "jwt-secret",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

// --- helpers ---

// loadConfig reads the workspace config and overlays flags and OUTREACH_*
// environment variables. It does not validate.
func loadConfig() (*config.Config, []string, error) {
	workspace := viper.GetString("workspace")
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Workspace == "" || cfg.Store.Workspace == "." {
		cfg.Store.Workspace = workspace
	}
	overlay := map[string]*string{
		"session-id":        &cfg.Messaging.SessionID,
		"proxy":             &cfg.Messaging.Proxy,
		"gateway-url":       &cfg.Messaging.BaseURL,
		"generator-api-key": &cfg.Generator.APIKey,
		"jwt-secret":        &cfg.Server.JWTSecret,
	}
	for key, dst := range overlay {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	warnings := cfg.Normalize()
	return cfg, warnings, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log, viper.GetBool("verbose"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func workspace() string { return viper.GetString("workspace") }
