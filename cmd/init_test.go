package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ssrkit/ssrkit/internal/config"
)

func TestRunInit_WritesConfigAndDeclarations(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "my-app")
	initEntry = "src/entry-server.js"

	require.NoError(t, runInit(initCmd, []string{dir}))

	data, err := os.ReadFile(filepath.Join(dir, ".ssrkit.yml"))
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "src/entry-server.js", cfg.SSR.Entry)
	assert.Equal(t, 4173, cfg.Server.Port)
	assert.Equal(t, "dist", cfg.Build.OutDir)

	decls, err := os.ReadFile(filepath.Join(dir, "ssrkit-env.d.ts"))
	require.NoError(t, err)
	assert.Contains(t, string(decls), `declare module "ssr:manifest"`)
}

func TestRunInit_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ssrkit.yml"), []byte("server:\n  port: 9999\n"), 0o644))

	err := runInit(initCmd, []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	// Original config untouched.
	data, err := os.ReadFile(filepath.Join(dir, ".ssrkit.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "9999")
}
