package config

import (
	"fmt"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".stepscope"
	configFile string = "config.yml"
)

// Duration wraps time.Duration so config values can use Go duration
// syntax ("100ms", "2s").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config defines all configuration options available to be set through the
// config file. Command line flags override these.
type Config struct {
	// Listen is the default address the server listens on.
	Listen string `yaml:"listen"`
	// AcceptMulti makes the server keep accepting connections instead of
	// exiting after the first client disconnects.
	AcceptMulti bool `yaml:"accept-multiclient"`

	// StepTimeout bounds how long one observation waits for the target to
	// reach a stopping state before it is forcibly suspended.
	StepTimeout Duration `yaml:"step-timeout"`
	// MaxTargets caps how many attached targets are kept at once.
	MaxTargets int `yaml:"max-targets"`

	// Log enables logging on the listed layers, same syntax as the
	// --log-output flag.
	Log string `yaml:"log"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Closing config file failed: %v.\n", err)
		}
	}()

	data, err := os.ReadFile(fullConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read config data: %v.\n", err)
		return &Config{}
	}

	c, err := Decode(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file: %v.\n", err)
		return &Config{}
	}
	return c
}

// Decode parses the yaml form of the configuration.
func Decode(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct to disk.
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
		`# Configuration file for the stepscope observation server.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Address the server listens on when the --listen flag is not given.
# listen: localhost:4711

# Keep accepting connections after the first client disconnects.
# accept-multiclient: true

# How long one observation waits for the target to stop before it is
# forcibly suspended. Accepts Go duration syntax.
# step-timeout: 100ms

# How many attached targets are kept at once; the least recently observed
# target is detached past this cap.
# max-targets: 64

# Layers that should produce debug output, e.g. "engine,ptrace".
# log: engine
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
