package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/feedbackvos/attach"
	"github.com/hazyhaar/feedbackvos/capture"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "feedbackd.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8086", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionIdleTimeout)
	assert.Equal(t, "en", cfg.Widget.Language)
	assert.Equal(t, "dark", cfg.Widget.Theme)
	assert.Equal(t, "bottom-right", cfg.Widget.Position)
	assert.True(t, cfg.Widget.IsEnabled())
	assert.Equal(t, ".feedback-screenshots", cfg.GitHub.ScreenshotPath)
	assert.True(t, cfg.GitHub.UploadAttachments())
	assert.Equal(t, attach.DefaultLimits(), cfg.Uploads)
	assert.Equal(t, capture.DefaultExcludeSelector, cfg.Capture.ExcludeSelector)
	assert.Equal(t, 4*time.Hour, cfg.Capture.RecycleInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	p := writeFile(t, `
server:
  addr: ":9000"
  session_idle_timeout: 10m
widget:
  language: nl
  theme: light
  enabled: false
github:
  owner: acme
  repo: app
  rate_limit: 5
uploads:
  max_file_size: 1048576
capture:
  navigate_timeout: 5s
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Server.SessionIdleTimeout)
	assert.Equal(t, "nl", cfg.Widget.Language)
	assert.False(t, cfg.Widget.IsEnabled())
	assert.Equal(t, 5, cfg.GitHub.RateLimit)
	assert.EqualValues(t, 1<<20, cfg.Uploads.MaxFileSize)
	assert.EqualValues(t, attach.DefaultMaxTotalSize, cfg.Uploads.MaxTotalSize)
	assert.Equal(t, 5*time.Second, cfg.Capture.NavigateTimeout)
	assert.Equal(t, "acme/app", cfg.GitHub.Target().FullName())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "server: [nope"))
	assert.Error(t, err)
}

func TestFromEnv_Overlay(t *testing.T) {
	// WHAT: environment wins over the file; sizes accept human units.
	cfg, err := Load(writeFile(t, "github:\n  token: from-file\n"))
	require.NoError(t, err)

	t.Setenv("GITHUB_TOKEN", "from-env")
	t.Setenv("FEEDBACK_GITHUB_REPO", "acme/widgets")
	t.Setenv("FEEDBACK_MAX_FILE_SIZE", "2 MiB")
	t.Setenv("FEEDBACK_SESSION_IDLE_TIMEOUT", "45m")
	t.Setenv("FEEDBACK_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	require.NoError(t, FromEnv(cfg))
	assert.Equal(t, "from-env", cfg.GitHub.Token)
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.Equal(t, "widgets", cfg.GitHub.Repo)
	assert.EqualValues(t, 2<<20, cfg.Uploads.MaxFileSize)
	assert.Equal(t, 45*time.Minute, cfg.Server.SessionIdleTimeout)
	assert.False(t, cfg.Widget.IsEnabled())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestFromEnv_BadValues(t *testing.T) {
	cfg := Default()
	t.Setenv("FEEDBACK_SESSION_IDLE_TIMEOUT", "soon")
	t.Setenv("FEEDBACK_MAX_TOTAL_SIZE", "lots")

	err := FromEnv(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEEDBACK_SESSION_IDLE_TIMEOUT")
	assert.Contains(t, err.Error(), "FEEDBACK_MAX_TOTAL_SIZE")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Widget.Language = "fr"
	cfg.Widget.Theme = "neon"
	cfg.Uploads.MaxFileSize = cfg.Uploads.MaxTotalSize + 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "widget.language")
	assert.Contains(t, err.Error(), "widget.theme")
	assert.Contains(t, err.Error(), "uploads.max_file_size")
}
