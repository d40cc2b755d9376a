package brand

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	b := Get()
	assert.Equal(t, "Warden", b.Name)
	assert.Equal(t, b.LowerName, LowerName)
	assert.Equal(t, "WARDEN_PREFIX", Env("PREFIX"))
	assert.Equal(t, "dev", Version)
}

func TestDirectories(t *testing.T) {
	b := Get()
	for _, key := range []string{"PREFIX", "CONFIG_DIR", "STATE_DIR", "RUN_DIR"} {
		t.Setenv(Env(key), "")
	}

	assert.Equal(t, b.ConfigDir, GetConfigDir())
	assert.Equal(t, b.StateDir, GetStateDir())
	assert.Equal(t, b.RunDir, GetRunDir())

	t.Setenv(Env("PREFIX"), "/opt/w")
	assert.Equal(t, "/opt/w/config", GetConfigDir())
	assert.Equal(t, "/opt/w/state", GetStateDir())
	assert.Equal(t, filepath.Join("/opt/w/run", b.LowerName+"-"+b.SocketName), GetSocketPath())

	t.Setenv(Env("RUN_DIR"), "/tmp/r")
	assert.Equal(t, "/tmp/r", GetRunDir())
	assert.Equal(t, filepath.Join("/opt/w/config", b.ConfigFileName), GetConfigPath())
}
