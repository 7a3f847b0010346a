package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8787", c.ListenAddr)
	assert.Equal(t, "Asia/Kolkata", c.TimeZone)
	assert.Equal(t, 10, c.Calendar.StartHH)
	assert.Equal(t, 12, c.Calendar.EndHH)
	assert.Equal(t, "Compliance Team", c.MailSignature)
}

func TestLoadYamlAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "firmdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
time_zone: "Asia/Kolkata"
calendar:
  start_hh: 9
  end_hh: 11
digest:
  firm_recipients:
    - partners@firm.example
`), 0644))

	t.Setenv("FIRMDESK_DB", filepath.Join(dir, "x.db"))
	t.Setenv("CRON_SECRET", "s3cret")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.ListenAddr)
	assert.Equal(t, 9, c.Calendar.StartHH)
	assert.Equal(t, "Asia/Kolkata", c.Calendar.TimeZone, "window inherits the configured zone")
	assert.Equal(t, []string{"partners@firm.example"}, c.Digest.FirmRecipients)
	assert.Equal(t, filepath.Join(dir, "x.db"), c.DBPath)
	assert.Equal(t, "s3cret", c.CronSecret)
}

func TestLoadMissingYamlIsFine(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestLoadBadYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "firmdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [broken"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
