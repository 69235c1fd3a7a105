package app

import (
	"strings"

	"github.com/charlesng35/shopkv/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server section,
// defaulting to info.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.Init(logger.Options{Level: level, Development: cfg.Development})
}
