// Package brand holds the product identity and the default filesystem
// layout. The identity lives in brand.json so packaging scripts read the
// same names the binary uses.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var identityJSON []byte

// Identity is the product naming and default layout.
type Identity struct {
	Name           string `json:"name"`
	LowerName      string `json:"lowerName"`
	Description    string `json:"description"`
	BinaryName     string `json:"binaryName"`
	EnvPrefix      string `json:"configEnvPrefix"`
	ConfigDir      string `json:"defaultConfigDir"`
	StateDir       string `json:"defaultStateDir"`
	RunDir         string `json:"defaultRunDir"`
	SocketName     string `json:"socketName"`
	ConfigFileName string `json:"configFileName"`
}

var id Identity

// Shortcuts into the identity for call sites that only need a name.
var (
	Name        string
	LowerName   string
	Description string
	BinaryName  string
)

// Set at build time with -ldflags "-X grimm.is/warden/internal/brand.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func init() {
	if err := json.Unmarshal(identityJSON, &id); err != nil {
		panic("brand: invalid brand.json: " + err.Error())
	}
	Name, LowerName, Description, BinaryName = id.Name, id.LowerName, id.Description, id.BinaryName
}

// Get returns the embedded identity.
func Get() Identity {
	return id
}

// Env returns the name of a WARDEN_-prefixed environment variable.
func Env(key string) string {
	return id.EnvPrefix + "_" + key
}

// resolveDir picks $WARDEN_<key>_DIR, then $WARDEN_PREFIX/<sub>, then the
// compiled-in default.
func resolveDir(key, sub, fallback string) string {
	if dir := os.Getenv(Env(key + "_DIR")); dir != "" {
		return dir
	}
	if prefix := os.Getenv(Env("PREFIX")); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return fallback
}

// GetStateDir is where the state store and journal live.
func GetStateDir() string { return resolveDir("STATE", "state", id.StateDir) }

// GetConfigDir holds the configuration file.
func GetConfigDir() string { return resolveDir("CONFIG", "config", id.ConfigDir) }

// GetRunDir holds the control socket and PID file.
func GetRunDir() string { return resolveDir("RUN", "run", id.RunDir) }

// GetSocketPath returns the default control socket, e.g.
// /var/run/warden-ctl.sock.
func GetSocketPath() string {
	return filepath.Join(GetRunDir(), id.LowerName+"-"+id.SocketName)
}

// GetConfigPath returns the default configuration file.
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), id.ConfigFileName)
}
