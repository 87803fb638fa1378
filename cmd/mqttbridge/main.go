// mqttbridge - run local commands from MQTT
//
// mqttbridge subscribes to one call topic per configured action and runs
// the action's command whenever a message arrives there. Every action is
// also announced to Home Assistant via MQTT discovery as a button, so the
// hub shows a control for it without any manual setup.
//
// Usage:
//
//	mqttbridge [-c config.yaml] [-d]
//	mqttbridge check [-c config.yaml]
//	mqttbridge version
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rytilahti/mqtt-bridge/internal/action"
	"github.com/rytilahti/mqtt-bridge/internal/bridge"
	"github.com/rytilahti/mqtt-bridge/internal/discovery"
	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/config"
	"github.com/rytilahti/mqtt-bridge/internal/infrastructure/logging"
	"github.com/rytilahti/mqtt-bridge/internal/process"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C or SIGTERM; the dispatcher then shuts down gracefully
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runOptions carries the command-line settings for run.
type runOptions struct {
	configPath string
	debug      int
}

// run is the daemon, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context, opts runOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting mqttbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"instance", cfg.MQTT.InstanceName,
		"level", cfg.Logging.Level,
	)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	publisher, err := discovery.New(discovery.Config{
		Prefix:   cfg.Discovery.Prefix,
		Instance: cfg.MQTT.InstanceName,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("configuring discovery: %w", err)
	}

	runner := process.NewRunner(runnerConfig(cfg))
	runner.SetLogger(log.With("component", "runner"))

	qos := byte(cfg.MQTT.QoS)
	dispatcher, err := bridge.New(bridge.Options{
		Registry:          registry,
		Publisher:         publisher,
		Dial:              bridge.NewMQTTDialer(cfg.MQTT, publisher.Will(qos), log.With("component", "mqtt")),
		Executor:          runner,
		Logger:            log.With("component", "dispatcher"),
		QoS:               qos,
		Discovery:         cfg.Discovery.Enabled,
		RetractOnShutdown: cfg.Discovery.RetractOnShutdown,
		PublishResults:    cfg.Execution.PublishResults,
		GracePeriod:       cfg.GetGracePeriod(),
		Reconnect: bridge.ReconnectPolicy{
			InitialDelay:    cfg.MQTT.Reconnect.InitialDelayDuration(),
			MaxDelay:        cfg.MQTT.Reconnect.MaxDelayDuration(),
			StartupAttempts: cfg.MQTT.Reconnect.StartupAttempts,
			StableAfter:     cfg.MQTT.Reconnect.StableAfterDuration(),
		},
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	log.Info("connecting to MQTT broker",
		"broker", net.JoinHostPort(cfg.MQTT.Host, strconv.Itoa(cfg.MQTT.Port)),
		"client_id", cfg.MQTT.ClientID,
		"actions", registry.Len(),
	)

	if err := dispatcher.Run(ctx); err != nil {
		return err
	}

	log.Info("mqttbridge stopped")
	return nil
}

// loadConfig loads the file and applies command-line overrides.
func loadConfig(opts runOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.debug > 0 {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// runnerConfig maps the execution section onto the command runner.
func runnerConfig(cfg *config.Config) process.Config {
	return process.Config{
		OutputTail: cfg.Execution.OutputTail,
		Env:        cfg.Execution.Env,
		WorkDir:    cfg.Execution.WorkDir,
	}
}

// buildRegistry validates the configured actions.
func buildRegistry(cfg *config.Config) (*action.Registry, error) {
	defs := make([]action.Definition, len(cfg.Actions))
	for i, a := range cfg.Actions {
		defs[i] = action.Definition{Name: a.Name, Icon: a.Icon, Command: a.Command}
	}

	registry, err := action.Build(defs, cfg.MQTT.InstanceName)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}
	return registry, nil
}
