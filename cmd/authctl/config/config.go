// Package config persists authctl's credentials and endpoint between runs,
// kubeconfig-style, in $HOME/.gradeloop/authctl.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppName is the CLI binary name, used for config paths and help text.
const AppName = "authctl"

// Context is one saved server connection with its credentials.
type Context struct {
	ServerEndpoint   string    `yaml:"server"`
	AccessToken      string    `yaml:"accessToken,omitempty"`
	RefreshToken     string    `yaml:"refreshToken,omitempty"`
	SessionID        string    `yaml:"sessionId,omitempty"`
	ExpiresAt        time.Time `yaml:"expiresAt,omitempty"`
	RefreshExpiresAt time.Time `yaml:"refreshExpiresAt,omitempty"`
}

// File is the on-disk shape.
type File struct {
	CurrentContext string              `yaml:"currentContext"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// CfgFile can be set by the --config flag to override the default path.
var CfgFile string

func path() (string, error) {
	if CfgFile != "" {
		return CfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".gradeloop", AppName+".yaml"), nil
}

// Load reads the config file. A missing file yields an empty config.
func Load() (*File, error) {
	p, err := path()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &File{Contexts: map[string]*Context{}}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if f.Contexts == nil {
		f.Contexts = map[string]*Context{}
	}
	return &f, nil
}

// Save writes the config file with owner-only permissions; it holds tokens.
func Save(f *File) error {
	p, err := path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Current returns the active context, creating a default when none exists.
func (f *File) Current() *Context {
	if f.CurrentContext == "" {
		f.CurrentContext = "default"
	}
	ctx, ok := f.Contexts[f.CurrentContext]
	if !ok {
		ctx = &Context{}
		f.Contexts[f.CurrentContext] = ctx
	}
	return ctx
}
