// Package config loads simulcast-mpv's settings from CLI flags, process
// environment, and dotenv files, in that precedence order: viper binds
// pflag flags and SIMULCAST_* env vars, and godotenv seeds the process
// environment from the first dotenv file found across a small set of
// candidate locations before viper reads it.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultRelayURL    = "wss://simulcast.example.org/relay"
	DefaultRelayRoom   = "abcd1234"
	DefaultBindAddress = "127.0.0.1"
	DefaultBindPort    = 30777
	DefaultRepoURL     = "https://github.com/rtldg/simulcast-mpv"

	EnvRelayURL    = "SIMULCAST_RELAY_URL"
	EnvRelayRoom   = "SIMULCAST_RELAY_ROOM"
	EnvClientSock  = "SIMULCAST_CLIENT_SOCK"
	EnvBindAddress = "SIMULCAST_BIND_ADDRESS"
	EnvBindPort    = "SIMULCAST_BIND_PORT"
	EnvRepoURL     = "SIMULCAST_REPO_URL"

	// DotenvFilename is searched for in playerScriptsDir, the user config
	// dir, and the current working directory, in that order.
	DotenvFilename = "simulcast-mpv.env"
)

// ClientConfig holds everything `simulcast-mpv client` needs.
type ClientConfig struct {
	RelayURL   string
	RelayRoom  string
	ClientSock string
}

// RelayConfig holds everything `simulcast-mpv relay` needs.
type RelayConfig struct {
	BindAddress string
	BindPort    int
	RepoURL     string
}

// LoadDotenv searches, in order, playerScriptsDir/simulcast-mpv.env, the
// user config dir, and the current working directory, loading the first
// one found. Values already present in the process environment are never
// overridden (godotenv.Load semantics). Absence of any dotenv file is not
// an error.
func LoadDotenv(playerScriptsDir string) error {
	candidates := make([]string, 0, 3)
	if playerScriptsDir != "" {
		candidates = append(candidates, filepath.Join(playerScriptsDir, DotenvFilename))
	}
	if ucd, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(ucd, DotenvFilename))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DotenvFilename))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return godotenv.Load(path)
		}
	}
	return nil
}

// BindClientFlags registers the client subcommand's flags and returns a
// *viper.Viper pre-bound to them and to their SIMULCAST_* env equivalents,
// with defaults applied. Register before the flag set is parsed. viper reads
// the bound env vars at lookup time, so call LoadClient after LoadDotenv for
// dotenv values to participate.
func BindClientFlags(fs *pflag.FlagSet) *viper.Viper {
	fs.String("relay-url", DefaultRelayURL, "relay server to synchronize through")
	fs.String("relay-room", DefaultRelayRoom, "room code shared by all participants")
	fs.String("client-sock", "", "path to mpv's --input-ipc-server socket/pipe")

	v := viper.New()
	_ = v.BindPFlag("relay-url", fs.Lookup("relay-url"))
	_ = v.BindPFlag("relay-room", fs.Lookup("relay-room"))
	_ = v.BindPFlag("client-sock", fs.Lookup("client-sock"))
	_ = v.BindEnv("relay-url", EnvRelayURL)
	_ = v.BindEnv("relay-room", EnvRelayRoom)
	_ = v.BindEnv("client-sock", EnvClientSock)
	v.SetDefault("relay-url", DefaultRelayURL)
	v.SetDefault("relay-room", DefaultRelayRoom)
	return v
}

// LoadClient resolves a ClientConfig from a viper instance built by
// BindClientFlags.
func LoadClient(v *viper.Viper) ClientConfig {
	return ClientConfig{
		RelayURL:   v.GetString("relay-url"),
		RelayRoom:  v.GetString("relay-room"),
		ClientSock: v.GetString("client-sock"),
	}
}

// BindRelayFlags registers the relay subcommand's flags.
func BindRelayFlags(fs *pflag.FlagSet) *viper.Viper {
	fs.String("bind-address", DefaultBindAddress, "address for the relay to listen on")
	fs.Int("bind-port", DefaultBindPort, "port for the relay to listen on")
	fs.String("repo-url", DefaultRepoURL, "source code URL surfaced in hello (AGPL compliance)")

	v := viper.New()
	_ = v.BindPFlag("bind-address", fs.Lookup("bind-address"))
	_ = v.BindPFlag("bind-port", fs.Lookup("bind-port"))
	_ = v.BindPFlag("repo-url", fs.Lookup("repo-url"))
	_ = v.BindEnv("bind-address", EnvBindAddress)
	_ = v.BindEnv("bind-port", EnvBindPort)
	_ = v.BindEnv("repo-url", EnvRepoURL)
	v.SetDefault("bind-address", DefaultBindAddress)
	v.SetDefault("bind-port", DefaultBindPort)
	v.SetDefault("repo-url", DefaultRepoURL)
	return v
}

// LoadRelay resolves a RelayConfig from a viper instance built by
// BindRelayFlags.
func LoadRelay(v *viper.Viper) RelayConfig {
	return RelayConfig{
		BindAddress: v.GetString("bind-address"),
		BindPort:    v.GetInt("bind-port"),
		RepoURL:     v.GetString("repo-url"),
	}
}
