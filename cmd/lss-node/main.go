// LoRa Sensor Swarm Node
// Host-runnable simulator for the client-node scheduling loop
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lss-net/lss-coordinator/internal/nodeconfig"
	"github.com/lss-net/lss-coordinator/internal/noderuntime"
	"github.com/lss-net/lss-coordinator/internal/radio"
	"github.com/lss-net/lss-coordinator/internal/sensor"
)

// Config represents the configuration file structure.
type Config struct {
	Node struct {
		ConfigDir string `yaml:"config_dir"`
	} `yaml:"node"`

	Radio struct {
		EventURL               string `yaml:"event_url"`
		CommandURL             string `yaml:"command_url"`
		PrependRadioHeadHeader bool   `yaml:"prepend_radiohead_header"`
	} `yaml:"radio"`

	Sim struct {
		TempC       float32 `yaml:"temp_c"`
		HumidityPct float32 `yaml:"humidity_pct"`
		TickMillis  int     `yaml:"tick_millis"`
	} `yaml:"sim"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "lss-node",
		Short: "LoRa Sensor Swarm node simulator",
		Long:  "Host-runnable simulator of the client-node scheduling loop, driven by a simulated sensor reading.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the node loop",
		RunE:  runNode,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lss-node v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/lss/node.yaml", "Configuration file path")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Radio.EventURL == "" || cfg.Radio.CommandURL == "" {
		return fmt.Errorf("radio.event_url and radio.command_url are required")
	}
	if cfg.Node.ConfigDir == "" {
		cfg.Node.ConfigDir = "/var/lib/lss/node"
	}
	if cfg.Sim.TickMillis == 0 {
		cfg.Sim.TickMillis = 100
	}

	store := nodeconfig.NewStore(nodeconfig.NewFileKV(cfg.Node.ConfigDir))
	link := radio.NewZMQLink(radio.ZMQConfig{
		EventURL:               cfg.Radio.EventURL,
		CommandURL:             cfg.Radio.CommandURL,
		PrependRadioHeadHeader: cfg.Radio.PrependRadioHeadHeader,
	})
	fake := sensor.NewFake(sensor.StaticReading(cfg.Sim.TempC, cfg.Sim.HumidityPct))

	rt := noderuntime.New(noderuntime.Options{
		Link:    link,
		Sensors: fake,
		Store:   store,
	})

	log.Println("starting lss-node")
	if err := rt.Start(); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(cfg.Sim.TickMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rt.RunOnce()
		case sig := <-sigChan:
			log.Printf("received signal %v, shutting down...", sig)
			if err := link.Stop(); err != nil {
				log.Printf("error stopping radio link: %v", err)
			}
			log.Println("shutdown complete")
			return nil
		}
	}
}
