// LoRa Sensor Swarm Coordinator
// Main entry point for the base-station service
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lss-net/lss-coordinator/internal/base"
	"github.com/lss-net/lss-coordinator/internal/radio"
)

// Config represents the configuration file structure.
type Config struct {
	Station struct {
		TZOffsetMinutes int16 `yaml:"tz_offset_minutes"`
	} `yaml:"station"`

	Radio struct {
		EventURL               string `yaml:"event_url"`
		CommandURL             string `yaml:"command_url"`
		PrependRadioHeadHeader bool   `yaml:"prepend_radiohead_header"`
	} `yaml:"radio"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
}

var (
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "lss-coordinator",
		Short: "LoRa Sensor Swarm coordinator",
		Long:  "Base-station service for a LoRa sensor swarm: command queue, ACK correlation, enrollment, and liveness tracking.",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the coordinator service",
		RunE:  runCoordinator,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lss-coordinator v0.1.0")
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/lss/coordinator.yaml", "Configuration file path")
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

func runCoordinator(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Radio.EventURL == "" || cfg.Radio.CommandURL == "" {
		return fmt.Errorf("radio.event_url and radio.command_url are required")
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/lss/coordinator.db"
	}

	db, err := base.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	link := radio.NewZMQLink(radio.ZMQConfig{
		EventURL:               cfg.Radio.EventURL,
		CommandURL:             cfg.Radio.CommandURL,
		PrependRadioHeadHeader: cfg.Radio.PrependRadioHeadHeader,
	})

	station := base.NewStation(base.StationOptions{
		DB:          db,
		Link:        link,
		TZOffsetMin: cfg.Station.TZOffsetMinutes,
	})

	log.Println("starting lss-coordinator")
	if err := station.Start(); err != nil {
		return fmt.Errorf("failed to start station: %w", err)
	}
	go station.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("received signal %v, shutting down...", sig)

	station.Stop()
	if err := link.Stop(); err != nil {
		log.Printf("error stopping radio link: %v", err)
	}
	log.Println("shutdown complete")
	return nil
}
