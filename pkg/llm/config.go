package llm

import (
	"github.com/deepugangadhar46/protego/pkg/config"
)

type Config struct {
	Provider string
	Model    string
	APIKey   string
	APIURL   string
}

// LoadEmbeddingConfig loads embedding configuration from EMBEDDING_* env vars.
func LoadEmbeddingConfig() Config {
	return Config{
		Provider: config.GetEnv("EMBEDDING_PROVIDER", "openai"),
		Model:    config.GetEnv("EMBEDDING_MODEL", ""),
		APIKey:   config.GetEnv("EMBEDDING_API_KEY", ""),
		APIURL:   config.GetEnv("EMBEDDING_API_URL", ""),
	}
}
