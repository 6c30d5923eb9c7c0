package core

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Default retrieval and lifecycle policy values, applied when the
// corresponding configuration fields are zero.
const (
	// DefaultMinSimilarity excludes weak vector matches from search results.
	DefaultMinSimilarity = 0.5

	// DefaultSearchLimit bounds SearchMemories results when no limit is given.
	DefaultSearchLimit = 10

	// DefaultEntityLimit bounds GetEntityMemories results when no limit is
	// given.
	DefaultEntityLimit = 20
)

// Config contains the complete configuration for a memstore client.
//
// Example:
//
//	config := &core.Config{
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-ada-002",
//	        Dimensions: 1536,
//	    },
//	    Store: core.StoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Store contains storage backend configuration.
	Store StoreConfig `json:"store"`

	// Retrieval contains search tuning (optional).
	Retrieval RetrievalConfig `json:"retrieval,omitempty"`

	// Lifecycle contains decay and consolidation tuning (optional).
	Lifecycle LifecycleConfig `json:"lifecycle,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, offline.
//
// The offline provider derives deterministic vectors from content alone and
// needs no credentials; it is also the automatic fallback when the openai
// provider is unreachable, so memory writes never fail on embedding.
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, offline).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key,omitempty"`

	// Model is the embedding model name (e.g., "text-embedding-ada-002").
	Model string `json:"model,omitempty"`

	// BaseURL is the base URL for the API (optional, provider default if empty).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors. Defaults to 1536.
	// All memories of a deployment share one dimension; changing it requires
	// re-embedding the stored corpus.
	Dimensions int `json:"dimensions,omitempty"`
}

// StoreConfig contains configuration for the storage backend.
//
// Supported providers: sqlite, postgres, mysql.
//
// Example:
//
//	storeConfig := core.StoreConfig{
//	    Provider: "sqlite",
//	    Config: map[string]interface{}{
//	        "db_path":    "./memories.db",
//	        "table_name": "memories",
//	    },
//	}
type StoreConfig struct {
	// Provider is the storage backend name (sqlite, postgres, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path, table_name
	// For PostgreSQL: host, port, user, password, db_name, table_name, ssl_mode
	// For MySQL: host, port, user, password, db_name, table_name
	Config map[string]interface{} `json:"config"`
}

// RetrievalConfig tunes similarity search.
type RetrievalConfig struct {
	// MinSimilarity excludes vector matches scoring below it.
	// Defaults to DefaultMinSimilarity.
	MinSimilarity float64 `json:"min_similarity,omitempty"`

	// SearchLimit is the default result bound for SearchMemories.
	SearchLimit int `json:"search_limit,omitempty"`

	// EntityLimit is the default result bound for GetEntityMemories.
	EntityLimit int `json:"entity_limit,omitempty"`
}

// LifecycleConfig tunes decay and consolidation.
type LifecycleConfig struct {
	// MaxAgeDays is the minimum age of a decayable memory. Defaults to 90.
	MaxAgeDays int `json:"max_age_days,omitempty"`

	// MinAccessCount is the maximum access count of a decayable memory.
	// Defaults to 1.
	MinAccessCount int64 `json:"min_access_count,omitempty"`

	// SimilarityThreshold is the cosine similarity at which consolidation
	// treats two memories as near-duplicates. Defaults to 0.92.
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	// Schedule is the cron expression for scheduled maintenance.
	// Defaults to lifecycle.DefaultSchedule.
	Schedule string `json:"schedule,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// A .env file discovered by FindEnvFile is loaded first, so local development
// works without exporting variables. Recognized variables:
//
//	STORE_PROVIDER        sqlite (default), postgres, mysql
//	SQLITE_DB_PATH        path to the SQLite file (default ./memstore.db)
//	POSTGRES_HOST/PORT/USER/PASSWORD/DATABASE/SSLMODE
//	MYSQL_HOST/PORT/USER/PASSWORD/DATABASE
//	STORE_TABLE           table name (default memories)
//	EMBEDDING_PROVIDER    offline (default), openai
//	EMBEDDING_API_KEY/MODEL/BASE_URL/DIMENSIONS
//	RETRIEVAL_MIN_SIMILARITY
//	LIFECYCLE_MAX_AGE_DAYS/MIN_ACCESS_COUNT/SCHEDULE
func LoadConfigFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	}

	provider := getEnvOrDefault("STORE_PROVIDER", "sqlite")
	table := getEnvOrDefault("STORE_TABLE", "memories")

	var storeConfig map[string]interface{}
	switch provider {
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":   os.Getenv("POSTGRES_PASSWORD"),
			"db_name":    getEnvOrDefault("POSTGRES_DATABASE", "memstore"),
			"table_name": table,
			"ssl_mode":   getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))
		storeConfig = map[string]interface{}{
			"host":       getEnvOrDefault("MYSQL_HOST", "localhost"),
			"port":       port,
			"user":       getEnvOrDefault("MYSQL_USER", "root"),
			"password":   os.Getenv("MYSQL_PASSWORD"),
			"db_name":    getEnvOrDefault("MYSQL_DATABASE", "memstore"),
			"table_name": table,
		}
	default:
		storeConfig = map[string]interface{}{
			"db_path":    getEnvOrDefault("SQLITE_DB_PATH", "./memstore.db"),
			"table_name": table,
		}
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "0"))
	minSim, _ := strconv.ParseFloat(getEnvOrDefault("RETRIEVAL_MIN_SIMILARITY", "0"), 64)
	maxAge, _ := strconv.Atoi(getEnvOrDefault("LIFECYCLE_MAX_AGE_DAYS", "0"))
	minAccess, _ := strconv.ParseInt(getEnvOrDefault("LIFECYCLE_MIN_ACCESS_COUNT", "0"), 10, 64)

	config := &Config{
		Embedder: EmbedderConfig{
			Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "offline"),
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		Store: StoreConfig{
			Provider: provider,
			Config:   storeConfig,
		},
		Retrieval: RetrievalConfig{
			MinSimilarity: minSim,
		},
		Lifecycle: LifecycleConfig{
			MaxAgeDays:     maxAge,
			MinAccessCount: minAccess,
			Schedule:       os.Getenv("LIFECYCLE_SCHEDULE"),
		},
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, NewMemoryError("LoadConfigFromEnvFile", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that:
//   - a storage backend provider is specified
//   - the embedder provider, when set, is a known one
//   - the openai embedder has an API key
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.Store.Provider == "" {
		return NewMemoryError("Validate", ErrInvalidConfig)
	}
	switch c.Store.Provider {
	case "sqlite", "postgres", "mysql":
	default:
		return NewMemoryError("Validate", ErrInvalidConfig)
	}

	switch c.Embedder.Provider {
	case "", "offline":
	case "openai":
		if c.Embedder.APIKey == "" {
			return NewMemoryError("Validate", ErrInvalidConfig)
		}
	default:
		return NewMemoryError("Validate", ErrInvalidConfig)
	}

	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search checks the current directory first, then walks up to 5 directory
// levels, returning the first .env or .env.example found.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

// configString reads a string value from a provider config map.
func configString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return defaultValue
}

// configInt reads an integer value from a provider config map, tolerating the
// float64 representation JSON unmarshaling produces.
func configInt(m map[string]interface{}, key string, defaultValue int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return defaultValue
	}
}
