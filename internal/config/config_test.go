// Package config provides configuration management for caselink.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultPort, cfg.Port)
	s.Equal("sqlite", cfg.DBDriver)
	s.Equal(DefaultMaxConns, cfg.MaxConns)
	s.InDelta(DefaultThreshold, cfg.Threshold, 1e-9)
	s.Equal(DefaultTopK, cfg.TopK)
	s.Equal(DefaultCasePrefix, cfg.CasePrefix)
	s.Equal(DefaultDimension, cfg.Dimension)
	s.Equal(DefaultEmbedModel, cfg.EmbedModel)
	s.Equal(DefaultWorkers, cfg.Workers)
	s.Equal(DefaultIndexMode, cfg.IndexMode)
	s.Equal(DefaultClassifications, cfg.Classifications)
}

// TestDataDir tests data directory path.
func (s *ConfigSuite) TestDataDir() {
	dir := DataDir()
	s.Contains(dir, ".caselink")
}

// TestDBPath tests database path.
func (s *ConfigSuite) TestDBPath() {
	path := DBPath()
	s.Contains(path, "caselink.db")
}

// TestSettingsPath tests settings file path.
func (s *ConfigSuite) TestSettingsPath() {
	path := SettingsPath()
	s.Contains(path, "settings.json")
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	err := EnsureAll()
	s.NoError(err)

	info, err := os.Stat(DataDir())
	s.NoError(err)
	s.True(info.IsDir())

	_, err = os.Stat(SettingsPath())
	s.NoError(err)

	// Second call should not error (everything exists)
	s.NoError(EnsureAll())
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name              string
		settingsJSON      string
		expectedPort      int
		expectedThreshold float64
		expectedWorkers   int
	}{
		{
			name:              "no settings file",
			settingsJSON:      "",
			expectedPort:      DefaultPort,
			expectedThreshold: DefaultThreshold,
			expectedWorkers:   DefaultWorkers,
		},
		{
			name:              "custom port",
			settingsJSON:      `{"CASELINK_PORT": 38888}`,
			expectedPort:      38888,
			expectedThreshold: DefaultThreshold,
			expectedWorkers:   DefaultWorkers,
		},
		{
			name:              "custom threshold",
			settingsJSON:      `{"CASE_GROUPING_THRESHOLD": 0.85}`,
			expectedPort:      DefaultPort,
			expectedThreshold: 0.85,
			expectedWorkers:   DefaultWorkers,
		},
		{
			name:              "threshold as string",
			settingsJSON:      `{"CASE_GROUPING_THRESHOLD": "0.60"}`,
			expectedPort:      DefaultPort,
			expectedThreshold: 0.60,
			expectedWorkers:   DefaultWorkers,
		},
		{
			name:              "multiple settings",
			settingsJSON:      `{"CASELINK_PORT": 39999, "CASE_GROUPING_THRESHOLD": 0.5, "CASELINK_WORKERS": 8}`,
			expectedPort:      39999,
			expectedThreshold: 0.5,
			expectedWorkers:   8,
		},
		{
			name:              "invalid JSON returns defaults",
			settingsJSON:      `{invalid}`,
			expectedPort:      DefaultPort,
			expectedThreshold: DefaultThreshold,
			expectedWorkers:   DefaultWorkers,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			// Create fresh temp dir
			tempDir, err := os.MkdirTemp("", "config-test-*")
			s.Require().NoError(err)
			defer os.RemoveAll(tempDir)

			os.Setenv("HOME", tempDir)

			err = os.MkdirAll(filepath.Join(tempDir, ".caselink"), 0750)
			s.Require().NoError(err)

			if tt.settingsJSON != "" {
				writeErr := os.WriteFile(
					filepath.Join(tempDir, ".caselink", "settings.json"),
					[]byte(tt.settingsJSON),
					0600,
				)
				s.Require().NoError(writeErr)
			}

			cfg, err := Load()
			s.NoError(err)
			s.NotNil(cfg)
			s.Equal(tt.expectedPort, cfg.Port)
			s.InDelta(tt.expectedThreshold, cfg.Threshold, 1e-9)
			s.Equal(tt.expectedWorkers, cfg.Workers)
		})
	}
}

// TestLoad_EnvOverridesSettings tests that environment variables win over
// the settings file.
func TestLoad_EnvOverridesSettings(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	origHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", origHome)

	err = os.MkdirAll(filepath.Join(tempDir, ".caselink"), 0750)
	require.NoError(t, err)

	settingsJSON := `{"CASE_GROUPING_THRESHOLD": 0.85, "CASELINK_EMBED_URL": "http://file.example/embed"}`
	err = os.WriteFile(
		filepath.Join(tempDir, ".caselink", "settings.json"),
		[]byte(settingsJSON),
		0600,
	)
	require.NoError(t, err)

	origThreshold := os.Getenv("CASE_GROUPING_THRESHOLD")
	origURL := os.Getenv("CASELINK_EMBED_URL")
	defer func() {
		os.Setenv("CASE_GROUPING_THRESHOLD", origThreshold)
		os.Setenv("CASELINK_EMBED_URL", origURL)
	}()
	os.Setenv("CASE_GROUPING_THRESHOLD", "0.55")
	os.Setenv("CASELINK_EMBED_URL", "http://env.example/embed")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.55, cfg.Threshold, 1e-9)
	assert.Equal(t, "http://env.example/embed", cfg.EmbedURL)
}

// TestLoad_Classifications tests the comma-separated classification list.
func TestLoad_Classifications(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	origHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", origHome)

	err = os.MkdirAll(filepath.Join(tempDir, ".caselink"), 0750)
	require.NoError(t, err)

	settingsJSON := `{"CASELINK_CLASSIFICATIONS": " rasuah , pecah amanah ,"}`
	err = os.WriteFile(
		filepath.Join(tempDir, ".caselink", "settings.json"),
		[]byte(settingsJSON),
		0600,
	)
	require.NoError(t, err)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"rasuah", "pecah amanah"}, cfg.Classifications)
}

// TestSplitTrim tests the splitTrim helper function.
func TestSplitTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: []string{},
		},
		{
			name:     "single value",
			input:    "rasuah",
			expected: []string{"rasuah"},
		},
		{
			name:     "multiple values",
			input:    "rasuah,penyelewengan,pecah amanah",
			expected: []string{"rasuah", "penyelewengan", "pecah amanah"},
		},
		{
			name:     "values with spaces",
			input:    " rasuah , penyelewengan ",
			expected: []string{"rasuah", "penyelewengan"},
		},
		{
			name:     "empty values filtered",
			input:    "rasuah,,penyelewengan,,",
			expected: []string{"rasuah", "penyelewengan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitTrim(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestGetPort_WithEnv tests GetPort with environment variable override.
func TestGetPort_WithEnv(t *testing.T) {
	origEnv := os.Getenv("CASELINK_PORT")
	defer os.Setenv("CASELINK_PORT", origEnv)

	os.Setenv("CASELINK_PORT", "45678")
	assert.Equal(t, 45678, GetPort())

	os.Setenv("CASELINK_PORT", "not-a-number")
	assert.Greater(t, GetPort(), 0)

	os.Unsetenv("CASELINK_PORT")
	assert.Greater(t, GetPort(), 0)
}
