// internal/pipeline/critic/config.go
package critic

import "time"

type Config struct {
	GenAIBaseURL   string
	GenAIAPIKey    string
	Timeout        time.Duration
	MaxRetries     int
	MaxTokens      int
	Temperature    float64
	MaxInputLength int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:        60 * time.Second,
		MaxRetries:     1,
		MaxTokens:      1000,
		Temperature:    0.1,
		MaxInputLength: 8000,
	}
}
