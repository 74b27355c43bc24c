package config

import "os"

type ToolConfig struct {
	// Google Custom Search credentials for internet_search.
	GoogleAPIKey string `json:"googleApiKey"`
	GoogleCSEID  string `json:"googleCseId"`
}

func NewToolConfig() *ToolConfig {
	return &ToolConfig{
		GoogleAPIKey: os.Getenv("GOOGLE_API_KEY"),
		GoogleCSEID:  os.Getenv("GOOGLE_CSE_ID"),
	}
}

type FireCrawlConfig struct {
	APIKey string `json:"api_key"`
	APIUrl string `json:"api_url"`
}

func NewFireCrawlConfig() *FireCrawlConfig {
	config := &FireCrawlConfig{
		APIKey: os.Getenv("FIRECRAWL_API_KEY"),
		APIUrl: os.Getenv("FIRECRAWL_API_URL"),
	}

	if config.APIUrl == "" {
		config.APIUrl = "https://api.firecrawl.dev"
	}

	return config
}
