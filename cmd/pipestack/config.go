package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/animus-labs/pipestack/internal/platform/env"
)

type Config struct {
	ConfigDir      string
	StackFile      string
	BuildContext   string
	PushgatewayURL string
}

func ConfigFromEnv() (Config, error) {
	configDir, err := env.Path("PIPESTACK_CONFIG_DIR", "~/.config/pipestack")
	if err != nil {
		return Config{}, err
	}
	stackFile, err := env.Path("PIPESTACK_STACK_FILE", "")
	if err != nil {
		return Config{}, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("resolve working directory: %w", err)
	}
	buildContext, err := env.Path("PIPESTACK_BUILD_CONTEXT", wd)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ConfigDir:      configDir,
		StackFile:      stackFile,
		BuildContext:   buildContext,
		PushgatewayURL: env.String("PIPESTACK_PUSHGATEWAY_URL", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ConfigDir) == "" {
		return errors.New("PIPESTACK_CONFIG_DIR is required")
	}
	if strings.TrimSpace(c.BuildContext) == "" {
		return errors.New("PIPESTACK_BUILD_CONTEXT is required")
	}
	if c.PushgatewayURL != "" && !strings.HasPrefix(c.PushgatewayURL, "http://") && !strings.HasPrefix(c.PushgatewayURL, "https://") {
		return fmt.Errorf("PIPESTACK_PUSHGATEWAY_URL must be an http(s) url, got %q", c.PushgatewayURL)
	}
	return nil
}
