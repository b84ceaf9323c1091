package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const configPathEnvVar = "CONFIG_PATH"

type Config interface {
	EnvConfig
	CorsConfig
	IdentityConfig
	SessionConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
	GetAdminEmail() string
	GetAdminPassword() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Identity
	Session
	Storage
}

// New loads configuration from the environment and, when CONFIG_PATH is set,
// from that YAML file. Environment variables win over the file.
func New() (Config, error) {
	return Load(os.Getenv(configPathEnvVar))
}

// Load is New with an explicit config file path. An empty path reads the
// environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("[config Load] reading %s: %w", path, err)
		}
	}

	return mainConfig{
		EnvVars:  EnvVars{v: v},
		Cors:     Cors{v: v},
		Identity: Identity{v: v},
		Session:  Session{v: v},
		Storage:  Storage{v: v},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(keyPort, "8080")
	v.SetDefault(keyAppName, "Waste-Konnect Admin")
	v.SetDefault(keyEnv, "DEV")
	v.SetDefault(keyBaseURL, "http://localhost:8080")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyAdminEmail, "admin@wastekonnect.local")

	v.SetDefault(keyAllowedOrigins, []string{"http://localhost:8080"})

	v.SetDefault(keyGoogleIssuer, "https://accounts.google.com")
	v.SetDefault(keyAssertionTTL, "12h")
	v.SetDefault(keyLoginRate, 5)
	v.SetDefault(keyLoginBurst, 5)

	v.SetDefault(keyPendingWait, "3s")
	v.SetDefault(keyConfirmWait, "5s")
	v.SetDefault(keyHandshakeTTL, "5m")
	v.SetDefault(keyBrowserTTL, "12h")

	v.SetDefault(keyRedisPrefix, "wk")
	v.SetDefault(keyDatabaseMigrate, true)
}
