package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("a: 1\n"), 0o600))

	assert.NoError(t, ValidateConfigPath("config", file))
	assert.Error(t, ValidateConfigPath("config", ""))
	assert.Error(t, ValidateConfigPath("config", filepath.Join(dir, "missing.yaml")))
	assert.Error(t, ValidateConfigPath("config", dir))
}

func TestValidateResumeID(t *testing.T) {
	assert.NoError(t, ValidateResumeID("6f1c3f7e-9a43-4a5e-8f2d-0f6f3a1b2c3d"))
	assert.Error(t, ValidateResumeID("not-a-uuid"))
	assert.Error(t, ValidateResumeID("6f1c3f7e'; DROP TABLE fcf_state;--"))
}
