// internal/pipeline/researcher/config.go
package researcher

import "time"

type Config struct {
	SearchAPIBaseURL string
	SearchAPIKey     string
	SearchEngineID   string
	GenAIBaseURL     string
	GenAIAPIKey      string
	SearchTimeout    time.Duration
	SummaryTimeout   time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	MaxResults       int
	MaxQueryLength   int
	MaxInputLength   int
}

func LoadConfig() *Config {
	return &Config{
		SearchTimeout:  10 * time.Second,
		SummaryTimeout: 60 * time.Second,
		MaxRetries:     3,
		RetryDelay:     2 * time.Second,
		MaxResults:     7,
		MaxQueryLength: 500,
		MaxInputLength: 8000,
	}
}
