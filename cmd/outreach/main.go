package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/foxzi/outreach/internal/app"
	"github.com/foxzi/outreach/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Outreach - engagement orchestration engine",
	Long: `Outreach classifies replies to outbound campaigns, answers them when it is
safe to do so and schedules follow-ups for prospects who stay silent.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inbound and follow-up loops",
	Long:  `Start the orchestration loops together with the HTTP API and metrics endpoints.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("outreach version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig reads .env files next to the binary and the config, then the config itself
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	if err := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(cfgFile), ".env")); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return config.Load(cfgFile)
}

// openApp wires the application without starting loops or servers
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(cfg, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Storage: %s\n", cfg.Storage.Path)
	fmt.Printf("  Providers: %v\n", cfg.ProviderIDs())
	fmt.Printf("  Campaigns: %d\n", len(cfg.Campaigns))
	fmt.Printf("  Intents: %d\n", len(cfg.Intents))
	fmt.Printf("  Templates: %d\n", len(cfg.Templates))
	fmt.Printf("  LLM: %s\n", enabledString(cfg.LLM.Enabled, cfg.LLM.Model))
	fmt.Printf("  API: %s\n", enabledString(cfg.API.Enabled, cfg.API.ListenAddr))
	fmt.Printf("  Metrics: %s\n", enabledString(cfg.Metrics.Enabled, cfg.Metrics.ListenAddr))

	return nil
}

func enabledString(enabled bool, detail string) string {
	if !enabled {
		return "disabled"
	}
	return detail
}

// printCounts prints outcome counters in a stable order
func printCounts[K ~string](counts map[K]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, counts[K(k)])
	}
}
