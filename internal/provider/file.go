package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/torosent/lopnur/internal/model"
)

// Entry is one provider as stored in the providers file.
type Entry struct {
	Name           string `json:"name" yaml:"name" mapstructure:"name"`
	Endpoint       string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	EnvKeyPrefix   string `json:"envKeyPrefix,omitempty" yaml:"envKeyPrefix,omitempty" mapstructure:"envKeyPrefix"`
	RequiresAPIKey bool   `json:"requiresApiKey" yaml:"requiresApiKey" mapstructure:"requiresApiKey"`
	WSEndpoint     string `json:"wsEndpoint,omitempty" yaml:"wsEndpoint,omitempty" mapstructure:"wsEndpoint"`
	GRPCEndpoint   string `json:"grpcEndpoint,omitempty" yaml:"grpcEndpoint,omitempty" mapstructure:"grpcEndpoint"`
}

// File is the providers file document.
type File struct {
	Providers []Entry `json:"providers" yaml:"providers" mapstructure:"providers"`
}

// EndpointEnvSuffix is appended to an entry's env prefix to form the
// variable that overrides its endpoint.
const EndpointEnvSuffix = "_RPC_ENDPOINT"

var envPrefixInvalid = regexp.MustCompile(`[^A-Z0-9_]`)

// EnvPrefix derives the environment variable prefix for a provider name.
func EnvPrefix(name string) string {
	return envPrefixInvalid.ReplaceAllString(strings.ToUpper(name), "_")
}

// Resolve turns the entry into a provider, preferring the endpoint from
// <EnvKeyPrefix>_RPC_ENDPOINT when that variable is set.
func (e Entry) Resolve() model.Provider {
	endpoint := e.Endpoint
	if e.EnvKeyPrefix != "" {
		if v := strings.TrimSpace(os.Getenv(e.EnvKeyPrefix + EndpointEnvSuffix)); v != "" {
			endpoint = v
		}
	}
	return model.Provider{
		Name:         e.Name,
		Endpoint:     endpoint,
		WSEndpoint:   e.WSEndpoint,
		GRPCEndpoint: e.GRPCEndpoint,
	}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := gotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ReadFile parses a providers file. JSON and YAML are accepted.
func ReadFile(path string) (File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return File{}, fmt.Errorf("read providers file %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("decode providers file %s: %w", path, err)
	}
	return f, nil
}

// LoadFile builds a registry from a providers file. A missing or invalid
// file is logged and yields an empty registry.
func LoadFile(path string, log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	f, err := ReadFile(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("could not load providers")
		return NewRegistry()
	}

	r := NewRegistry()
	for _, e := range f.Providers {
		if strings.TrimSpace(e.Name) == "" {
			log.WithField("path", path).Warn("skipping provider entry without a name")
			continue
		}
		r.put(e.Resolve())
	}
	return r
}

// SaveToFile adds or replaces the named entry in the providers file,
// creating the file when it does not exist. An empty EnvKeyPrefix is
// generated from the name.
func SaveToFile(path string, entry Entry) error {
	if err := ValidateEndpoint(entry.Endpoint); err != nil {
		return err
	}
	if entry.EnvKeyPrefix == "" {
		entry.EnvKeyPrefix = EnvPrefix(entry.Name)
	}

	return withFileLock(path, func() error {
		f, err := readExisting(path)
		if err != nil {
			return err
		}
		replaced := false
		for i := range f.Providers {
			if f.Providers[i].Name == entry.Name {
				f.Providers[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			f.Providers = append(f.Providers, entry)
		}
		return writeFile(path, f)
	})
}

// RemoveFromFile deletes the named entry from the providers file.
func RemoveFromFile(path, name string) error {
	return withFileLock(path, func() error {
		f, err := readExisting(path)
		if err != nil {
			return err
		}
		for i := range f.Providers {
			if f.Providers[i].Name == name {
				f.Providers = append(f.Providers[:i], f.Providers[i+1:]...)
				return writeFile(path, f)
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	})
}

func readExisting(path string) (File, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return File{}, nil
	}
	return ReadFile(path)
}

func withFileLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create providers directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock providers file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func writeFile(path string, f File) error {
	if f.Providers == nil {
		f.Providers = []Entry{}
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(f)
	default:
		data, err = json.MarshalIndent(f, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode providers file: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write providers file: %w", err)
	}
	return os.Rename(tmp, path)
}
