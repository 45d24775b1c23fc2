package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-news/config"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := fmt.Sprintf("database:\n  path: %s\nlog:\n  level: error\n%s", filepath.Join(dir, "news.db"), extra)
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPurgeCommandPrintsReport(t *testing.T) {
	path := writeConfig(t, "")
	out, err := execute(t, "purge", "--config", path)
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Contains(t, report, "age")
	assert.Contains(t, report, "snapshots")
}

func TestMonitorCommandExitsTwoWhenCritical(t *testing.T) {
	path := writeConfig(t, "storage:\n  limit_bytes: 1\n")
	out, err := execute(t, "monitor", "--config", path)
	require.Error(t, err)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
	assert.Contains(t, out, `"level": "CRITICAL"`)
}

func TestMonitorCommandOK(t *testing.T) {
	path := writeConfig(t, "")
	_, err := execute(t, "monitor", "--config", path)
	assert.NoError(t, err)
}

func TestAICommandsRequireCredentials(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	path := writeConfig(t, "")

	for _, name := range []string{"filter", "summarize", "run"} {
		_, err := execute(t, name, "--config", path)
		assert.ErrorIs(t, err, config.ErrInvalidConfig, name)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	path := writeConfig(t, "filter:\n  min_relevance_score: 42\n")
	_, err := execute(t, "purge", "--config", path)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
