package config

import "os"

type LogConfig struct {
	LogLevel   string `json:"logLevel"`
	LogHandler string `json:"logHandler"`
}

func NewLogConfig() *LogConfig {
	config := &LogConfig{
		LogLevel:   os.Getenv("LOG_LEVEL"),
		LogHandler: os.Getenv("LOG_HANDLER"),
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogHandler == "" {
		config.LogHandler = "default"
	}

	return config
}
