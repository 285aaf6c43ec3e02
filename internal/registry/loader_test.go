package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeToolFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestParseToolConfigRejectsUnknownTopLevelField(t *testing.T) {
	_, err := ParseToolConfig([]byte(`{
		"name": "cargo",
		"description": "Rust build tool",
		"command": "cargo",
		"not_a_real_field": true
	}`))
	require.Error(t, err)
}

func TestParseToolConfigRequiresCoreFields(t *testing.T) {
	_, err := ParseToolConfig([]byte(`{"name": "cargo"}`))
	require.Error(t, err)
}

func TestParseToolConfigAcceptsWellFormedDocument(t *testing.T) {
	cfg, err := ParseToolConfig([]byte(`{
		"name": "cargo",
		"description": "Rust build tool",
		"command": "cargo",
		"subcommand": [
			{
				"name": "build",
				"description": "Build the project",
				"options": [
					{"name": "release", "type": "boolean"}
				]
			}
		],
		"force_synchronous": false,
		"hints": {"build": "Run cargo build before cargo test"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "cargo", cfg.Name)
	assert.Len(t, cfg.Subcommand, 1)
	assert.Equal(t, "build", cfg.Subcommand[0].Name)
}

func TestLoadDirectoryRejectsReservedToolName(t *testing.T) {
	dir := t.TempDir()
	writeToolFile(t, dir, "await.json", `{"name": "await", "description": "x", "command": "x"}`)

	configs, errs := LoadDirectory(dir)
	assert.Empty(t, configs)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "reserved")
}

func TestLoadDirectorySkipsDisabledTools(t *testing.T) {
	dir := t.TempDir()
	writeToolFile(t, dir, "cargo.json", `{"name": "cargo", "description": "x", "command": "cargo", "enabled": false}`)

	configs, errs := LoadDirectory(dir)
	assert.Empty(t, errs)
	assert.Empty(t, configs)
}

func TestLoadDirectoryCollectsErrorsButContinues(t *testing.T) {
	dir := t.TempDir()
	writeToolFile(t, dir, "broken.json", `{ not valid json`)
	writeToolFile(t, dir, "cargo.json", `{"name": "cargo", "description": "x", "command": "cargo"}`)

	configs, errs := LoadDirectory(dir)
	require.Len(t, errs, 1)
	require.Len(t, configs, 1)
	assert.Contains(t, configs, "cargo")
}

func TestLoadDirectoryMissingReturnsEmpty(t *testing.T) {
	configs, errs := LoadDirectory(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Empty(t, errs)
	assert.Empty(t, configs)
}

func TestGuidanceStoreLookup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool_guidance.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cargo.build": "Run with --release for production binaries"}`), 0o644))

	store, err := LoadGuidanceStore(path)
	require.NoError(t, err)
	v, ok := store.Lookup("cargo.build")
	assert.True(t, ok)
	assert.Contains(t, v, "release")

	_, ok = store.Lookup("unknown.key")
	assert.False(t, ok)
}

func TestGuidanceStoreMissingFileIsEmptyNotError(t *testing.T) {
	store, err := LoadGuidanceStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	_, ok := store.Lookup("anything")
	assert.False(t, ok)
}

func TestResolveSequencesRejectsUnknownToolReference(t *testing.T) {
	dir := t.TempDir()
	writeToolFile(t, dir, "composite.json", `{
		"name": "release",
		"description": "composite",
		"command": "true",
		"sequence": [
			{"tool": "does-not-exist", "subcommand": "build"}
		]
	}`)

	_, _, err := Load(dir, filepath.Join(dir, "tool_guidance.json"))
	require.Error(t, err)
}

func TestResolveSequencesAcceptsKnownToolAndSubcommand(t *testing.T) {
	dir := t.TempDir()
	writeToolFile(t, dir, "cargo.json", `{
		"name": "cargo",
		"description": "x",
		"command": "cargo",
		"subcommand": [{"name": "build", "description": "build"}]
	}`)
	writeToolFile(t, dir, "composite.json", `{
		"name": "release",
		"description": "composite",
		"command": "true",
		"sequence": [
			{"tool": "cargo", "subcommand": "build"}
		]
	}`)

	reg, errs, err := Load(dir, filepath.Join(dir, "tool_guidance.json"))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Len(t, reg.Tools, 2)
}
