package config

import (
	"os"
	"path/filepath"
)

// RuntimeConfig gathers everything the agent process needs at start-up.
type RuntimeConfig struct {
	LogConfig
	ModelConfig
	MemoryConfig
	ToolConfig
	FireCrawlConfig

	// Home is the install dir holding chats/, memory/global/ and logs/.
	Home string `json:"home"`
}

func NewRuntimeConfig() (*RuntimeConfig, error) {
	home := os.Getenv("MUSE_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, ".muse")
	}

	conf := &RuntimeConfig{
		LogConfig:       *NewLogConfig(),
		ModelConfig:     *NewModelConfig(),
		MemoryConfig:    *NewMemoryConfig(),
		ToolConfig:      *NewToolConfig(),
		FireCrawlConfig: *NewFireCrawlConfig(),
		Home:            home,
	}

	if err := conf.ModelConfig.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *RuntimeConfig) ChatsDir() string  { return filepath.Join(c.Home, "chats") }
func (c *RuntimeConfig) GlobalDir() string { return filepath.Join(c.Home, "memory", "global") }
func (c *RuntimeConfig) LogsDir() string   { return filepath.Join(c.Home, "logs") }
