package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okizar/swarmtap/internal/config"
)

var (
	configureStreamURL   string
	configureFallbackURL string
	configureGatewayHost string
	configureGatewayPort int
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the configuration file",
	Long: `Write the configuration file, starting from defaults and applying
any endpoint flags. Existing settings in the file are preserved.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureStreamURL, "stream-url", "", "orchestrator streaming endpoint")
	configureCmd.Flags().StringVar(&configureFallbackURL, "fallback-url", "", "orchestrator A2A fallback endpoint")
	configureCmd.Flags().StringVar(&configureGatewayHost, "gateway-host", "", "gateway listen host")
	configureCmd.Flags().IntVar(&configureGatewayPort, "gateway-port", 0, "gateway listen port")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if configureStreamURL != "" {
		cfg.Orchestrator.StreamURL = configureStreamURL
	}
	if configureFallbackURL != "" {
		cfg.Orchestrator.FallbackURL = configureFallbackURL
	}
	if configureGatewayHost != "" {
		cfg.Gateway.Host = configureGatewayHost
	}
	if configureGatewayPort != 0 {
		cfg.Gateway.Port = configureGatewayPort
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	configPath, err := loader.GetConfigPath()
	if err != nil {
		return err
	}
	fmt.Printf("Configuration saved to: %s\n", configPath)
	fmt.Println("Start the gateway with: swarmtap serve")

	return nil
}
