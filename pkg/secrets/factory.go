package secrets

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RepositoryConfig contains configuration for creating a secret repository
type RepositoryConfig struct {
	// DB is required for PostgreSQL repositories
	DB DBTX
	// DataDir is required for file-based repositories
	DataDir string
	// RedisClient is required for Redis repositories
	RedisClient redis.UniversalClient
}

// NewSecretRepository creates a secret repository based on the persistence type
func NewSecretRepository(persistenceType string, config RepositoryConfig) (SecretRepository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.DB == nil {
			return nil, fmt.Errorf("db required for postgres repository")
		}
		return NewPostgresSecretRepository(config.DB), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file repository")
		}
		return NewFileSecretRepository(config.DataDir)
	case "redis":
		if config.RedisClient == nil {
			return nil, fmt.Errorf("redis client required for redis repository")
		}
		return NewRedisSecretRepository(config.RedisClient), nil
	case "inmem", "memory":
		return NewInMemSecretRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, redis, inmem)", persistenceType)
	}
}
