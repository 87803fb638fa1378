package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rytilahti/mqtt-bridge/internal/discovery"
	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/config"
)

// newRootCmd builds the command tree. The root command runs the daemon.
func newRootCmd() *cobra.Command {
	opts := runOptions{}

	rootCmd := &cobra.Command{
		Use:   "mqttbridge",
		Short: "Run local commands from MQTT",
		Long: `mqttbridge subscribes to one MQTT topic per configured action and runs the
action's command whenever a message arrives. Actions are announced to
Home Assistant via MQTT discovery as buttons.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "configuration file")
	rootCmd.Flags().CountVarP(&opts.debug, "debug", "d", "enable debug logging")

	rootCmd.AddCommand(newCheckCmd(&opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newCheckCmd validates the configuration and prints the topics it yields.
func newCheckCmd(opts *runOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and list action topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd.OutOrStdout(), *opts)
		},
	}
}

func check(out io.Writer, opts runOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	publisher, err := discovery.New(discovery.Config{
		Prefix:   cfg.Discovery.Prefix,
		Instance: cfg.MQTT.InstanceName,
	})
	if err != nil {
		return fmt.Errorf("configuring discovery: %w", err)
	}

	fmt.Fprintf(out, "instance:     %s\n", cfg.MQTT.InstanceName)
	fmt.Fprintf(out, "availability: %s\n", publisher.AvailabilityTopic())
	for _, a := range registry.All() {
		fmt.Fprintf(out, "\n%s\n", a.Name)
		fmt.Fprintf(out, "  slug:      %s\n", a.Slug)
		fmt.Fprintf(out, "  command:   %s\n", a.Command)
		fmt.Fprintf(out, "  call:      %s\n", a.Topic)
		if cfg.Discovery.Enabled {
			fmt.Fprintf(out, "  discovery: %s\n", publisher.DiscoveryTopic(a))
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mqttbridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
