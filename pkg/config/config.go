// Package config holds the environment-driven configuration shared by
// the stepauth server and tooling.
package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/stackidm/stepauth/pkg/redirect"
)

// AppConfig holds application-wide settings.
type AppConfig struct {
	ApplicationName string `env:"APPLICATION_NAME" env-default:"stepauth"`
	// SecretKeyLength is the generated TOTP secret strength in bits.
	SecretKeyLength int `env:"SECRET_KEY_LENGTH" env-default:"160"`
	// RequireTwoFactorAuthentication forces every account to enroll
	// before it can finish a login.
	RequireTwoFactorAuthentication bool `env:"REQUIRE_TWO_FACTOR_AUTHENTICATION" env-default:"false"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `env:"HOST" env-default:"localhost"`
	Port uint16 `env:"PORT" env-default:"4000"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// JwtConfig holds token signing settings.
type JwtConfig struct {
	Secret          string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	TempTokenExpiry string `env:"TEMP_TOKEN_EXPIRY" env-default:"5m"`
}

// PersistenceConfig selects and parameterizes the secret store backend.
type PersistenceConfig struct {
	// Type is one of: inmem, file, postgres, redis.
	Type    string `env:"PERSISTENCE_TYPE" env-default:"file"`
	DataDir string `env:"DATA_DIR" env-default:"./data"`

	PgHost     string `env:"PG_HOST" env-default:"localhost"`
	PgPort     uint16 `env:"PG_PORT" env-default:"5432"`
	PgDatabase string `env:"PG_DATABASE" env-default:"stepauth_db"`
	PgUser     string `env:"PG_USER" env-default:"stepauth"`
	PgPassword string `env:"PG_PASSWORD" env-default:"pwd"`

	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
}

// PgURL renders the postgres connection string.
func (p PersistenceConfig) PgURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		p.PgUser, p.PgPassword, p.PgHost, p.PgPort, p.PgDatabase)
}

// RoutesConfig names the step-up redirect destinations. The coordinates
// are only validated when a redirect actually fires.
type RoutesConfig struct {
	LoginPackage    string `env:"ROUTE_LOGIN_PACKAGE" env-default:""`
	LoginController string `env:"ROUTE_LOGIN_CONTROLLER" env-default:""`
	LoginAction     string `env:"ROUTE_LOGIN_ACTION" env-default:""`
	SetupPackage    string `env:"ROUTE_SETUP_PACKAGE" env-default:""`
	SetupController string `env:"ROUTE_SETUP_CONTROLLER" env-default:""`
	SetupAction     string `env:"ROUTE_SETUP_ACTION" env-default:""`
}

// Routes converts the flat env fields into redirect route values.
func (r RoutesConfig) Routes() redirect.Routes {
	return redirect.Routes{
		Login: redirect.RouteValues{Package: r.LoginPackage, Controller: r.LoginController, Action: r.LoginAction},
		Setup: redirect.RouteValues{Package: r.SetupPackage, Controller: r.SetupController, Action: r.SetupAction},
	}
}

// Config is the root configuration.
type Config struct {
	AppConfig         AppConfig
	ServerConfig      ServerConfig
	JwtConfig         JwtConfig
	PersistenceConfig PersistenceConfig
	RoutesConfig      RoutesConfig
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	config := Config{}
	if err := cleanenv.ReadEnv(&config); err != nil {
		return Config{}, fmt.Errorf("failed to read environment config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks settings that would otherwise fail late and obscurely.
func (c Config) Validate() error {
	switch c.PersistenceConfig.Type {
	case "inmem", "file", "postgres", "redis":
	default:
		return fmt.Errorf("invalid PERSISTENCE_TYPE %q, must be one of: inmem, file, postgres, redis", c.PersistenceConfig.Type)
	}
	if c.AppConfig.SecretKeyLength < 80 {
		return fmt.Errorf("SECRET_KEY_LENGTH %d is below the 80-bit minimum", c.AppConfig.SecretKeyLength)
	}
	return nil
}
