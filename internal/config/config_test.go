package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Default Configuration Tests
// =============================================================================

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "4KB", cfg.Storage.CompressionThreshold)
	assert.Equal(t, 64, cfg.Storage.SQLiteCacheMB)
	assert.NotEmpty(t, cfg.Storage.DataDir)

	assert.Equal(t, 1000, cfg.Capture.QueueCapacity)
	assert.Equal(t, 100, cfg.Capture.BatchSize)
	assert.Equal(t, "5s", cfg.Capture.FlushInterval)

	assert.Contains(t, cfg.Daemon.SocketPath, "daemon.sock")
	assert.Contains(t, cfg.Daemon.PIDPath, "daemon.pid")
	assert.Equal(t, "30s", cfg.Daemon.Timeout)
	assert.False(t, cfg.Daemon.AutoStart)

	assert.Equal(t, "offline", cfg.Embedding.Mode)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)

	assert.True(t, cfg.LLM.Enabled)
	assert.Equal(t, "qwen3:0.6b", cfg.LLM.Model)

	assert.Equal(t, "sqlite", cfg.Indexing.KeywordBackend)
	assert.Equal(t, 60, cfg.Indexing.RRFConstant)
	assert.Equal(t, 20, cfg.Indexing.MaxResults)

	assert.Empty(t, cfg.Profiles)
}

func TestNewConfig_Validates(t *testing.T) {
	cfg := NewConfig()
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// Configuration File Loading Tests
// =============================================================================

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "offline", cfg.Embedding.Mode)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
capture:
  batch_size: 50
  queue_capacity: 200
embedding:
  model: custom-embed
indexing:
  rrf_constant: 100
`
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Capture.BatchSize)
	assert.Equal(t, 200, cfg.Capture.QueueCapacity)
	assert.Equal(t, "custom-embed", cfg.Embedding.Model)
	assert.Equal(t, 100, cfg.Indexing.RRFConstant)
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
embedding:
  mode: online
`
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, "online", cfg.Embedding.Mode)
}

func TestLoad_YamlPreferredOverYml(t *testing.T) {
	tmpDir := t.TempDir()
	yamlContent := "embedding:\n  model: yaml-model\n"
	ymlContent := "embedding:\n  model: yml-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(yamlContent), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yml"), []byte(ymlContent), 0o644))

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, "yaml-model", cfg.Embedding.Model)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	invalidContent := "capture:\n  batch_size: [invalid yaml syntax\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(invalidContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir, "")

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestLoad_InvalidDuration_ReturnsValidationError(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "capture:\n  flush_interval: \"not-a-duration\"\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir, "")

	require.Error(t, err)
	assert.Nil(t, cfg)
}

// =============================================================================
// Profile Tests
// =============================================================================

func TestLoad_ProfileOverridesSelectFields(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
embedding:
  mode: offline
  model: nomic-embed-text
profiles:
  online:
    embedding_mode: online
    embedding_model: hosted-embed
    llm_enabled: false
`
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := Load(tmpDir, "online")

	require.NoError(t, err)
	assert.Equal(t, "online", cfg.Embedding.Mode)
	assert.Equal(t, "hosted-embed", cfg.Embedding.Model)
	assert.False(t, cfg.LLM.Enabled)
}

func TestLoad_UnknownProfile_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir, "does-not-exist")

	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_ProfileViaEnvVar(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
profiles:
  quiet:
    embedding_model: quiet-model
`
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("SHADOWLOG_PROFILE", "quiet")

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, "quiet-model", cfg.Embedding.Model)
}

// =============================================================================
// Environment Variable Override Tests
// =============================================================================

func TestLoad_EnvVarOverridesEmbeddingMode(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "embedding:\n  mode: offline\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("SHADOWLOG_EMBEDDING__MODE", "online")

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, "online", cfg.Embedding.Mode)
}

func TestLoad_EnvVarOverridesEmbeddingModel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SHADOWLOG_EMBEDDING__MODEL", "env-model")

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Embedding.Model)
}

func TestLoad_EnvVarOverridesLLMEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SHADOWLOG_LLM__ENABLED", "false")

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.False(t, cfg.LLM.Enabled)
}

func TestLoad_EnvVarOverridesLLMModel(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SHADOWLOG_LLM__MODEL", "env-llm-model")

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, "env-llm-model", cfg.LLM.Model)
}

func TestLoad_EnvVarOverridesRRFConstant(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := "indexing:\n  rrf_constant: 100\n"
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte(configContent), 0o644)
	require.NoError(t, err)
	t.Setenv("SHADOWLOG_INDEXING__RRF_CONSTANT", "80")

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Indexing.RRFConstant)
}

func TestLoad_EnvVarEmptyString_DoesNotOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SHADOWLOG_EMBEDDING__MODEL", "")

	cfg, err := Load(tmpDir, "")

	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
}

// =============================================================================
// User/Global Configuration Tests
// =============================================================================

func TestGetUserConfigPath_DefaultsToXDGLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")

	path := GetUserConfigPath()

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expected := filepath.Join(home, ".config", "shadowlog", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	customConfig := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customConfig)

	path := GetUserConfigPath()

	expected := filepath.Join(customConfig, "shadowlog", "config.yaml")
	assert.Equal(t, expected, path)
}

func TestGetUserConfigDir_ReturnsParentOfConfigPath(t *testing.T) {
	dir := GetUserConfigDir()
	path := GetUserConfigPath()

	assert.Equal(t, filepath.Dir(path), dir)
}

func TestUserConfigExists_ReturnsFalseWhenMissing(t *testing.T) {
	emptyDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", emptyDir)

	assert.False(t, UserConfigExists())
}

func TestUserConfigExists_ReturnsTrueWhenPresent(t *testing.T) {
	configDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	shadowlogDir := filepath.Join(configDir, "shadowlog")
	require.NoError(t, os.MkdirAll(shadowlogDir, 0o755))
	configPath := filepath.Join(shadowlogDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("embedding:\n  model: x\n"), 0o644))

	assert.True(t, UserConfigExists())
}

func TestLoad_UserConfigOverridesDefaults(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	shadowlogDir := filepath.Join(configDir, "shadowlog")
	require.NoError(t, os.MkdirAll(shadowlogDir, 0o755))
	userConfig := "embedding:\n  host: http://custom-host:11434\n"
	require.NoError(t, os.WriteFile(filepath.Join(shadowlogDir, "config.yaml"), []byte(userConfig), 0o644))

	cfg, err := Load(projectDir, "")

	require.NoError(t, err)
	assert.Equal(t, "http://custom-host:11434", cfg.Embedding.Host)
}

func TestLoad_ProjectConfigOverridesUserConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	shadowlogDir := filepath.Join(configDir, "shadowlog")
	require.NoError(t, os.MkdirAll(shadowlogDir, 0o755))
	userConfig := "embedding:\n  mode: online\n  model: user-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(shadowlogDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := "embedding:\n  model: project-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".shadowlog.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir, "")

	require.NoError(t, err)
	assert.Equal(t, "project-model", cfg.Embedding.Model)
	assert.Equal(t, "online", cfg.Embedding.Mode)
}

func TestLoad_EnvVarOverridesUserAndProjectConfig(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("SHADOWLOG_EMBEDDING__MODEL", "env-model")

	shadowlogDir := filepath.Join(configDir, "shadowlog")
	require.NoError(t, os.MkdirAll(shadowlogDir, 0o755))
	userConfig := "embedding:\n  model: user-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(shadowlogDir, "config.yaml"), []byte(userConfig), 0o644))

	projectConfig := "embedding:\n  model: project-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".shadowlog.yaml"), []byte(projectConfig), 0o644))

	cfg, err := Load(projectDir, "")

	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Embedding.Model)
}

func TestLoad_InvalidUserConfig_ReturnsError(t *testing.T) {
	configDir := t.TempDir()
	projectDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configDir)

	shadowlogDir := filepath.Join(configDir, "shadowlog")
	require.NoError(t, os.MkdirAll(shadowlogDir, 0o755))
	invalidConfig := "embedding:\n  model: [invalid yaml\n"
	require.NoError(t, os.WriteFile(filepath.Join(shadowlogDir, "config.yaml"), []byte(invalidConfig), 0o644))

	cfg, err := Load(projectDir, "")

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "user config")
}

// =============================================================================
// FindProjectRoot Tests
// =============================================================================

func TestFindProjectRoot_GitDirectory_ReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	gitDir := filepath.Join(tmpDir, ".git")
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_ConfigFile_ReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	err := os.WriteFile(filepath.Join(tmpDir, ".shadowlog.yaml"), []byte("embedding:\n  model: x\n"), 0o644)
	require.NoError(t, err)

	root, err := FindProjectRoot(nestedDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRoot_NoMarkers_ReturnsCurrentDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

// =============================================================================
// CompressionThresholdBytes Tests
// =============================================================================

func TestCompressionThresholdBytes_ParsesKB(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.CompressionThreshold = "4KB"

	n, err := cfg.CompressionThresholdBytes()

	require.NoError(t, err)
	assert.Equal(t, 4096, n)
}

func TestCompressionThresholdBytes_ParsesMB(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.CompressionThreshold = "10MB"

	n, err := cfg.CompressionThresholdBytes()

	require.NoError(t, err)
	assert.Equal(t, 10*1024*1024, n)
}

func TestCompressionThresholdBytes_InvalidReturnsError(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.CompressionThreshold = "not-a-size"

	_, err := cfg.CompressionThresholdBytes()

	assert.Error(t, err)
}
