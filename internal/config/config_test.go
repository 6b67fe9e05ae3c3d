package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	resetViper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ProfileStandalone, cfg.Profile)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "orchd", cfg.App.Name)
	assert.Equal(t, 64, cfg.Command.DeliveryQueueSize)
	assert.Equal(t, 5.0, cfg.Command.DeliveryRatePerSecond)
	assert.Equal(t, 10, cfg.Command.DeliveryBurst)
}

func TestValidateRejectsUnknownProfile(t *testing.T) {
	cfg := &Config{Profile: "bogus", Log: LogConfig{Level: "info"}, App: AppConfig{Name: "orchd"}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresDatabaseForClusterProfile(t *testing.T) {
	cfg := &Config{Profile: ProfileCluster, Log: LogConfig{Level: "info"}, App: AppConfig{Name: "orchd"}}
	assert.Error(t, cfg.Validate())

	cfg.Database = DatabaseConfig{Host: "db", Database: "orchd"}
	assert.NoError(t, cfg.Validate())
}

func TestIsCluster(t *testing.T) {
	assert.False(t, (&Config{Profile: ProfileStandalone}).IsCluster())
	assert.True(t, (&Config{Profile: ProfileCluster}).IsCluster())
}
