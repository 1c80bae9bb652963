package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fresh.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadServerMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServer(), cfg)
}

func TestServerDefaults(t *testing.T) {
	cfg := DefaultServer()

	assert.Equal(t, "127.0.0.1:51516", cfg.Address)
	assert.Empty(t, cfg.OpsAddress)
	assert.Equal(t, 500*time.Millisecond, cfg.MinTick)
	assert.Equal(t, 10*time.Second, cfg.TimeToPing)
	assert.Equal(t, 20*time.Second, cfg.TimeToKick)
	assert.Equal(t, 24, cfg.MaxUserNameLength)
	assert.Equal(t, 24, cfg.MaxRoomNameLength)
	assert.Equal(t, "Lobby", cfg.LobbyName)
	assert.Equal(t, "Welcome to the server.", cfg.Welcome)
	assert.Equal(t, "freshd.log", cfg.LogFile)
	assert.Equal(t, 2, cfg.LogLevel)
	assert.Equal(t, uint64(512), cfg.ByteLimit)
	assert.Equal(t, uint64(6), cfg.ByteTick)
}

func TestLoadServerOverrides(t *testing.T) {
	path := writeConf(t, `
address = 0.0.0.0:2000
ops_address = 127.0.0.1:9100
tick_ms = 250
time_to_ping_ms = 5000
time_to_kick_ms = 8000
max_user_name_length = 32
max_room_name_length = 48
lobby_name = Foyer
welcome_message = Hey there.
log_file = /tmp/fresh.log
log_level = 5
byte_limit = 1024
bytes_per_tick = 12
`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:2000", cfg.Address)
	assert.Equal(t, "127.0.0.1:9100", cfg.OpsAddress)
	assert.Equal(t, 250*time.Millisecond, cfg.MinTick)
	assert.Equal(t, 5*time.Second, cfg.TimeToPing)
	assert.Equal(t, 8*time.Second, cfg.TimeToKick)
	assert.Equal(t, 32, cfg.MaxUserNameLength)
	assert.Equal(t, 48, cfg.MaxRoomNameLength)
	assert.Equal(t, "Foyer", cfg.LobbyName)
	assert.Equal(t, "Hey there.", cfg.Welcome)
	assert.Equal(t, "/tmp/fresh.log", cfg.LogFile)
	assert.Equal(t, 5, cfg.LogLevel)
	assert.Equal(t, uint64(1024), cfg.ByteLimit)
	assert.Equal(t, uint64(12), cfg.ByteTick)
}

func TestLoadServerPartialFileKeepsOtherDefaults(t *testing.T) {
	path := writeConf(t, "lobby_name = Atrium\n")

	cfg, err := LoadServer(path)
	require.NoError(t, err)

	assert.Equal(t, "Atrium", cfg.LobbyName)
	assert.Equal(t, DefaultServer().Address, cfg.Address)
	assert.Equal(t, DefaultServer().ByteLimit, cfg.ByteLimit)
}

func TestLoadServerRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad address", "address = not-an-address\n"},
		{"bad ops address", "ops_address = :::\n"},
		{"non-numeric tick", "tick_ms = soon\n"},
		{"zero tick", "tick_ms = 0\n"},
		{"log level out of range", "log_level = 9\n"},
		{"negative byte limit", "byte_limit = -1\n"},
		{"zero name length", "max_user_name_length = 0\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadServer(writeConf(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadClientDefaultsAndOverrides(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	assert.Equal(t, DefaultClient(), cfg)

	path := writeConf(t, `
address = 10.0.0.1:51516
name = mermaid
timeout_ms = 250
read_size = 4096
cmd_char = ;
`)
	cfg, err = LoadClient(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:51516", cfg.Address)
	assert.Equal(t, "mermaid", cfg.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 4096, cfg.ReadSize)
	assert.Equal(t, ";", cfg.CmdChar)
}

func TestLoadClientRejectsBadValues(t *testing.T) {
	_, err := LoadClient(writeConf(t, "read_size = 0\n"))
	assert.Error(t, err)

	_, err = LoadClient(writeConf(t, "cmd_char = too long\n"))
	assert.Error(t, err)
}
