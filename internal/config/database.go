package config

import (
	"time"

	"github.com/codeready-toolchain/promptforge/internal/store"
)

// ToStoreConfig converts the YAML-facing DatabaseConfig into store.Config.
func (d DatabaseConfig) ToStoreConfig() store.Config {
	return store.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: time.Duration(d.ConnMaxLifetimeSecs) * time.Second,
		ConnMaxIdleTime: time.Duration(d.ConnMaxIdleTimeSecs) * time.Second,
	}
}
