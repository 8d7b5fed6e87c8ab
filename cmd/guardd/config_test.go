package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/guard/policy"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeFile(t, "guard.yaml", "addr: \":9000\"\n")

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "/v1", cfg.BasePath)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 10*time.Second, cfg.MutationTimeout)
	assert.Equal(t, "guard:", cfg.RedisKeyPrefix)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeFile(t, "guard.yaml", "log_level: debug\nstore: memory\n")
	t.Setenv("GUARD_LOG_LEVEL", "warn")
	t.Setenv("GUARD_MUTATION_TIMEOUT", "3s")

	cfg, err := loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.MutationTimeout)
}

func TestLoadConfigDotenv(t *testing.T) {
	path := writeFile(t, "guard.yaml", "store: memory\n")
	env := writeFile(t, ".env", "GUARD_ADDR=:7070\n")
	t.Cleanup(func() { os.Unsetenv("GUARD_ADDR") })

	cfg, err := loadConfig(path, env)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
}

func TestLoadConfigMissingDotenvIsFine(t *testing.T) {
	path := writeFile(t, "guard.yaml", "store: memory\n")

	_, err := loadConfig(path, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown store", "store: etcd\n"},
		{"redis without url", "store: redis\n"},
		{"bad log level", "log_level: loud\n"},
		{"negative limit", "limits:\n  seats: -1\n"},
		{"relative base path", "base_path: v1\n"},
		{"unknown plan", "plans:\n  pro:\n    seats: 5\nassignments:\n  org_1: enterprise\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeFile(t, "guard.yaml", tt.body), "")
			require.Error(t, err)
		})
	}
}

func TestBuildResolver(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "guard.yaml", `
limits:
  seats: 3
plans:
  pro:
    seats: 50
    projects: 0
assignments:
  org_pro: pro
`)
	cfg, err := loadConfig(path, "")
	require.NoError(t, err)

	r := buildResolver(cfg)

	l, err := r.ResolveLimit(ctx, "seats", policy.Subject{ID: "user_1", OrgID: "org_pro"})
	require.NoError(t, err)
	n, ok := l.Value()
	assert.True(t, ok)
	assert.Equal(t, int64(50), n)

	l, err = r.ResolveLimit(ctx, "projects", policy.Subject{ID: "org_pro"})
	require.NoError(t, err)
	assert.True(t, l.IsSet())
	assert.True(t, l.IsUnlimited())

	l, err = r.ResolveLimit(ctx, "seats", policy.Subject{ID: "org_free"})
	require.NoError(t, err)
	n, _ = l.Value()
	assert.Equal(t, int64(3), n)

	l, err = r.ResolveLimit(ctx, "storage", policy.Subject{ID: "org_free"})
	require.NoError(t, err)
	assert.False(t, l.IsSet())
}

func TestBuildResolverIgnoresKeyCase(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "guard.yaml", `
plans:
  Pro:
    Seats: 50
assignments:
  Org_Pro: Pro
`)
	cfg, err := loadConfig(path, "")
	require.NoError(t, err)

	r := buildResolver(cfg)

	for _, s := range []policy.Subject{{ID: "Org_Pro"}, {ID: "org_pro"}, {ID: "u1", OrgID: "ORG_PRO"}} {
		l, err := r.ResolveLimit(ctx, "Seats", s)
		require.NoError(t, err)
		n, ok := l.Value()
		assert.True(t, ok, "subject %+v", s)
		assert.Equal(t, int64(50), n, "subject %+v", s)
	}
}
