// Package config loads and saves the debugger client configuration file.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".zxdb"
	configFile string = "config.yml"
)

// SymbolServerConfig describes one remote symbol server.
type SymbolServerConfig struct {
	// URL of the server.
	URL string `yaml:"url"`
	// RequireAuth is true if the server needs an authentication step before
	// it can serve fetches.
	RequireAuth bool `yaml:"require-auth"`
}

// Config defines all configuration options available to be set through the
// config file.
type Config struct {
	// Connect is the default debug agent address ("host:port") used when no
	// address is given on the command line.
	Connect string `yaml:"connect"`

	// SymbolServers lists the remote servers queried for symbol files by
	// build ID.
	SymbolServers []SymbolServerConfig `yaml:"symbol-servers"`

	// SymbolCache is the directory where downloaded symbol files are stored.
	SymbolCache string `yaml:"symbol-cache"`

	// SymbolPaths is the list of local directories searched for symbol files
	// before asking any server.
	SymbolPaths []string `yaml:"symbol-paths"`

	// PauseOnLaunch stops new processes on their first thread instead of
	// letting them run after attach.
	PauseOnLaunch bool `yaml:"pause-on-launch"`

	// PauseOnAttach stops processes when attaching to them.
	PauseOnAttach bool `yaml:"pause-on-attach"`

	// QuitAgentOnExit makes the client ask the agent to quit when the client
	// disconnects.
	QuitAgentOnExit bool `yaml:"quit-agent-on-exit"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := os.ReadFile(fullConfigFile)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the zxdb debugger client.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Default debug agent address used when none is given on the command line.
# connect: "localhost:2345"

# Remote symbol servers queried by build ID.
symbol-servers:
  # - {url: "https://symbols.example.com", require-auth: false}

# Directory where downloaded symbol files are cached.
# symbol-cache: ~/.zxdb/symbol-cache

# Local directories searched for symbol files before asking any server.
symbol-paths:
  # - /path/to/build/out

# Stop new processes on launch instead of letting them run.
# pause-on-launch: false

# Stop processes when attaching to them.
# pause-on-attach: false

# Ask the agent to quit when the client disconnects.
# quit-agent-on-exit: false
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
