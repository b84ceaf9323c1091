package config

import "github.com/spf13/viper"

const (
	keyRedisURL        = "redis.url"
	keyRedisPrefix     = "redis.prefix"
	keyDatabaseURL     = "database.url"
	keyDatabaseMigrate = "database.migrate"
)

type StorageConfig interface {
	GetRedisURL() string
	GetRedisPrefix() string
	GetDatabaseURL() string
	GetRunMigrations() bool
}

type Storage struct {
	v *viper.Viper
}

var _ StorageConfig = Storage{}

// GetRedisURL is empty when the console runs on in-process state only.
func (s Storage) GetRedisURL() string {
	return s.v.GetString(keyRedisURL)
}

func (s Storage) GetRedisPrefix() string {
	return s.v.GetString(keyRedisPrefix)
}

// GetDatabaseURL is empty when staff accounts are kept in memory.
func (s Storage) GetDatabaseURL() string {
	return s.v.GetString(keyDatabaseURL)
}

func (s Storage) GetRunMigrations() bool {
	return s.v.GetBool(keyDatabaseMigrate)
}
