package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/painreview/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 100, cfg.Scoring.BaseScore)
	assert.Equal(t, 50, cfg.Scoring.MaxFunctionLines)
	assert.Equal(t, 4, cfg.Scoring.MaxNestingDepth)
	assert.Equal(t, 1000, cfg.History.MaxEntries)
	assert.Equal(t, 1000, cfg.Session.MaxSessions)
	assert.Equal(t, 120*time.Second, cfg.SessionTimeout())
	assert.Equal(t, 5*time.Second, cfg.ParseTimeout())
	assert.NoError(t, Validate(cfg))
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "painreview.toml")
	content := `
[engine]
workers = 8

[history]
max_entries = 200

[session]
required_roles = ["IMPLEMENTATION_ANALYST"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 200, cfg.History.MaxEntries)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.Scoring.BaseScore)

	roles, err := RequiredRoles(cfg)
	require.NoError(t, err)
	assert.Equal(t, []models.ReviewerRole{models.RoleImplementationAnalyst}, roles)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/painreview.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("RejectsZeroWorkers", func(t *testing.T) {
		cfg := Default()
		cfg.Engine.Workers = 0
		assert.Error(t, Validate(cfg))
	})

	t.Run("RejectsZeroHistoryCap", func(t *testing.T) {
		cfg := Default()
		cfg.History.MaxEntries = 0
		assert.Error(t, Validate(cfg))
	})

	t.Run("RejectsZeroSessionCap", func(t *testing.T) {
		cfg := Default()
		cfg.Session.MaxSessions = 0
		assert.Error(t, Validate(cfg))
	})

	t.Run("RejectsUnknownRole", func(t *testing.T) {
		cfg := Default()
		cfg.Session.RequiredRoles = []string{"CHAOS_GOBLIN"}
		assert.Error(t, Validate(cfg))
	})
}

func TestRequiredRolesDefaultsToAll(t *testing.T) {
	cfg := Default()
	roles, err := RequiredRoles(cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, models.AllReviewerRoles(), roles)
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "painreview.toml")

	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path), "refuses to overwrite")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
}
