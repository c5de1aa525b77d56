package main

import (
	"fmt"
	"os"

	"github.com/iTrooz/phoxy/internal/config"
	"github.com/iTrooz/phoxy/internal/proxy"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	server, err := setup(configPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}

	if err := server.Start(); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

// setup loads the configuration, applies the log level and builds the proxy
func setup(configPath string) (*proxy.Server, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	if rendered, err := cfg.YAML(); err == nil {
		logrus.Debugf("Loaded configuration from %s:\n%s", configPath, rendered)
	}

	server, err := proxy.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy server: %w", err)
	}
	return server, nil
}
