package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage VisionGate configuration",
		Long:  "Initialize a default configuration file, display the effective configuration, or change persistent settings.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default visiongate.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfig = `# VisionGate Configuration

server:
  host: 0.0.0.0
  port: 8080
  cors_origins:
    - "*"

# Upstream vision model (OpenAI-compatible chat completions)
upstream:
  base_url: https://api.openai.com
  api_key: ""    # Set via VISIONGATE_UPSTREAM_API_KEY env var
  model: gpt-4o-mini
  prompt: ""     # Empty uses the built-in default instruction
  timeout: 30s

# Authentication
auth:
  jwt_secret: ""       # Set via VISIONGATE_AUTH_JWT_SECRET env var
  cache_capacity: 1000 # Token validation cache entries
  cache_ttl: 5m        # How long a validation outcome stays fresh

# Billing
billing:
  cost_per_request_cents: 10
  timezone: UTC  # Calendar-month period boundaries are computed here

# Rate limiting (requests per minute)
rate_limit:
  global_rpm: 600
  solve_per_token_rpm: 120

# Logging
log:
  level: info    # debug, info, warn, error
`

func runConfigInit(force bool) error {
	path := "visiongate.yaml"

	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Set your upstream API key and JWT secret, then run 'visiongate serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigShow() error {
	// Ensure config is loaded
	initConfig()

	configFile := viper.ConfigFileUsed()
	if configFile != "" {
		fmt.Printf("Config file: %s\n", configFile)
	} else {
		fmt.Println("Config file: (none found, using defaults)")
	}
	fmt.Println()

	// Print all settings
	settings := viper.AllSettings()
	if len(settings) == 0 {
		fmt.Println("No configuration settings loaded.")
		fmt.Println("Run 'visiongate config init' to create a default configuration file.")
		return nil
	}

	for key, value := range settings {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}

// ---------- config set ----------

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a persistent setting in the store",
		Long:  "Write a key-value setting into the SQLite store. Used for toggles the server reads at startup, like telemetry.enabled.",
		Example: `  visiongate config set telemetry.enabled false`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func runConfigSet(key, value string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.SetSetting(context.Background(), key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}
