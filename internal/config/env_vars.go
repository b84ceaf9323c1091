package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	keyPort          = "port"
	keyAppName       = "app_name"
	keyEnv           = "env"
	keyBaseURL       = "base_url"
	keyLogLevel      = "log_level"
	keyAdminEmail    = "admin.email"
	keyAdminPassword = "admin.password"
)

type EnvVars struct {
	v *viper.Viper
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.v.GetString(keyPort)
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(keyAppName)
}

// GetEnv returns the deployment environment, "DEV" unless set.
func (e EnvVars) GetEnv() string {
	return strings.ToUpper(e.v.GetString(keyEnv))
}

// GetBaseURL returns the public URL of the console (e.g. "https://admin.wastekonnect.com").
// Provider redirect URLs are built from it.
func (e EnvVars) GetBaseURL() string {
	return strings.TrimSuffix(e.v.GetString(keyBaseURL), "/")
}

func (e EnvVars) GetLogLevel() string {
	return e.v.GetString(keyLogLevel)
}

func (e EnvVars) GetAdminEmail() string {
	return e.v.GetString(keyAdminEmail)
}

// GetAdminPassword is the bootstrap admin password. Empty means generate one.
func (e EnvVars) GetAdminPassword() string {
	return e.v.GetString(keyAdminPassword)
}
