// Package config loads server and client options from keyed text files of
// the form `key = value`, applying defaults for anything absent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server holds the validated options the server runs with.
type Server struct {
	// Address is the host:port the listener binds.
	Address string
	// OpsAddress, when non-empty, enables the HTTP operations surface
	// (metrics and health probes) on that host:port.
	OpsAddress string

	MinTick    time.Duration
	TimeToPing time.Duration
	TimeToKick time.Duration

	MaxUserNameLength int
	MaxRoomNameLength int

	LobbyName string
	Welcome   string

	LogFile  string
	LogLevel int

	// ByteLimit is the flood-control threshold; ByteTick is how much the
	// counter drains per dispatcher tick.
	ByteLimit uint64
	ByteTick  uint64
}

// Client holds the options the reference client runs with.
type Client struct {
	Address  string
	Name     string
	Timeout  time.Duration
	ReadSize int
	CmdChar  string
}

// DefaultServer returns the server configuration used when no file or key
// overrides it.
func DefaultServer() Server {
	return Server{
		Address:           "127.0.0.1:51516",
		MinTick:           500 * time.Millisecond,
		TimeToPing:        10_000 * time.Millisecond,
		TimeToKick:        20_000 * time.Millisecond,
		MaxUserNameLength: 24,
		MaxRoomNameLength: 24,
		LobbyName:         "Lobby",
		Welcome:           "Welcome to the server.",
		LogFile:           "freshd.log",
		LogLevel:          2,
		ByteLimit:         512,
		ByteTick:          6,
	}
}

// DefaultClient returns the client configuration used when no file or key
// overrides it.
func DefaultClient() Client {
	return Client{
		Address:  "127.0.0.1:51516",
		Name:     "fresh user",
		Timeout:  100 * time.Millisecond,
		ReadSize: 1024,
		CmdChar:  "/",
	}
}

// LoadServer reads the file at path and returns the resulting server
// configuration. A missing file is not an error; the defaults apply. Bad
// values are collected and reported together.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	kv, err := readFile(path)
	if err != nil {
		return cfg, err
	}
	if kv == nil {
		return cfg, nil
	}

	var errs []string

	getString(kv, "address", &cfg.Address, &errs)
	getString(kv, "ops_address", &cfg.OpsAddress, &errs)
	getDuration(kv, "tick_ms", &cfg.MinTick, &errs)
	getDuration(kv, "time_to_ping_ms", &cfg.TimeToPing, &errs)
	getDuration(kv, "time_to_kick_ms", &cfg.TimeToKick, &errs)
	getInt(kv, "max_user_name_length", &cfg.MaxUserNameLength, &errs)
	getInt(kv, "max_room_name_length", &cfg.MaxRoomNameLength, &errs)
	getString(kv, "lobby_name", &cfg.LobbyName, &errs)
	getString(kv, "welcome_message", &cfg.Welcome, &errs)
	getString(kv, "log_file", &cfg.LogFile, &errs)
	getInt(kv, "log_level", &cfg.LogLevel, &errs)
	getUint(kv, "byte_limit", &cfg.ByteLimit, &errs)
	getUint(kv, "bytes_per_tick", &cfg.ByteTick, &errs)

	if !isValidHostPort(cfg.Address) {
		errs = append(errs, fmt.Sprintf("address must be in format 'host:port' (got %q)", cfg.Address))
	}
	if cfg.OpsAddress != "" && !isValidHostPort(cfg.OpsAddress) {
		errs = append(errs, fmt.Sprintf("ops_address must be in format 'host:port' (got %q)", cfg.OpsAddress))
	}
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		errs = append(errs, fmt.Sprintf("log_level must be between 0 and 5 (got %d)", cfg.LogLevel))
	}
	if cfg.MinTick <= 0 {
		errs = append(errs, "tick_ms must be positive")
	}
	if cfg.MaxUserNameLength < 1 {
		errs = append(errs, "max_user_name_length must be at least 1")
	}
	if cfg.MaxRoomNameLength < 1 {
		errs = append(errs, "max_room_name_length must be at least 1")
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return cfg, nil
}

// LoadClient reads the file at path and returns the resulting client
// configuration. A missing file is not an error.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	kv, err := readFile(path)
	if err != nil {
		return cfg, err
	}
	if kv == nil {
		return cfg, nil
	}

	var errs []string

	getString(kv, "address", &cfg.Address, &errs)
	getString(kv, "name", &cfg.Name, &errs)
	getDuration(kv, "timeout_ms", &cfg.Timeout, &errs)
	getInt(kv, "read_size", &cfg.ReadSize, &errs)
	getString(kv, "cmd_char", &cfg.CmdChar, &errs)

	if !isValidHostPort(cfg.Address) {
		errs = append(errs, fmt.Sprintf("address must be in format 'host:port' (got %q)", cfg.Address))
	}
	if cfg.ReadSize < 1 {
		errs = append(errs, "read_size must be at least 1")
	}
	if len([]rune(cfg.CmdChar)) != 1 {
		errs = append(errs, fmt.Sprintf("cmd_char must be a single character (got %q)", cfg.CmdChar))
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return cfg, nil
}

// readFile parses the keyed file at path. It returns (nil, nil) when the
// file does not exist.
func readFile(path string) (map[string]string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	kv, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file %q: %w", path, err)
	}
	return kv, nil
}

func getString(kv map[string]string, key string, dst *string, _ *[]string) {
	if v, ok := kv[key]; ok {
		*dst = v
	}
}

func getInt(kv map[string]string, key string, dst *int, errs *[]string) {
	v, ok := kv[key]
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got %q)", key, v))
		return
	}
	*dst = n
}

func getUint(kv map[string]string, key string, dst *uint64, errs *[]string) {
	v, ok := kv[key]
	if !ok {
		return
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be a non-negative integer (got %q)", key, v))
		return
	}
	*dst = n
}

// getDuration reads a millisecond count.
func getDuration(kv map[string]string, key string, dst *time.Duration, errs *[]string) {
	v, ok := kv[key]
	if !ok {
		return
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || ms < 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a non-negative millisecond count (got %q)", key, v))
		return
	}
	*dst = time.Duration(ms) * time.Millisecond
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	i := strings.LastIndex(addr, ":")
	if i <= 0 || i == len(addr)-1 {
		return false
	}
	port, err := strconv.Atoi(addr[i+1:])
	return err == nil && port >= 1 && port <= 65535
}
