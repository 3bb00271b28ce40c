package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  address: ":9090"
database:
  driver: memory
jwt:
  secret: file-secret
scheduling:
  timezone: Europe/Berlin
  trainer_cache_ttl: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
	assert.Equal(t, 30*time.Second, cfg.Scheduling.TrainerCacheTTL)
	assert.Equal(t, 366, cfg.Scheduling.MaxOccurrences)
	assert.Equal(t, "meeting.provision", cfg.NATS.MeetingSubject)

	loc, err := cfg.Scheduling.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "mongo", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.False(t, cfg.S3.Enabled())
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Database: DatabaseConfig{Driver: "postgres"}, JWT: JWTConfig{Secret: "s"}}
	assert.Error(t, cfg.Validate())

	cfg.Database.Driver = "memory"
	cfg.JWT.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg.JWT.Secret = "s"
	cfg.Scheduling.Timezone = "Not/AZone"
	assert.Error(t, cfg.Validate())

	cfg.Scheduling.Timezone = ""
	assert.NoError(t, cfg.Validate())
}
