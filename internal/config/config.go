package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/danmuck/edgepipe/internal/channel"
	"github.com/pelletier/go-toml/v2"
)

// PipeConfig describes one side of a websocket pipe. Exactly one of Listen
// or Dial selects the role.
type PipeConfig struct {
	Name             string   `toml:"name"`
	Local            string   `toml:"local"`
	Target           string   `toml:"target"`
	AuthKey          string   `toml:"auth_key"`
	Timeout          string   `toml:"timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	Verbose          bool     `toml:"verbose"`
	Listen           string   `toml:"listen"`
	Path             string   `toml:"path"`
	Dial             string   `toml:"dial"`
	DialAttempts     int      `toml:"dial_attempts"`
	Echo             bool     `toml:"echo"`
	AdminAddr        string   `toml:"admin_addr"`
	CorsOrigins      []string `toml:"cors_origins"`
}

const (
	defaultName    = "pipectl"
	defaultPath    = "/pipe"
	defaultTimeout = "10s"
)

func LoadPipeConfig(path string) (PipeConfig, error) {
	var cfg PipeConfig
	if err := loadToml(path, &cfg); err != nil {
		return PipeConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidatePipeConfig(cfg); err != nil {
		return PipeConfig{}, err
	}
	return cfg, nil
}

func (c PipeConfig) withDefaults() PipeConfig {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = defaultName
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = defaultPath
	}
	if strings.TrimSpace(c.Timeout) == "" {
		c.Timeout = defaultTimeout
	}
	return c
}

// IsListener reports whether this side accepts the websocket connection.
func (c PipeConfig) IsListener() bool {
	return strings.TrimSpace(c.Listen) != ""
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidatePipeConfig(cfg PipeConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("pipe config missing name")
	}
	local, err := channel.ParseIdentity(cfg.Local)
	if err != nil {
		return fmt.Errorf("pipe config local: %w", err)
	}
	target, err := channel.ParseIdentity(cfg.Target)
	if err != nil {
		return fmt.Errorf("pipe config target: %w", err)
	}
	if local == target {
		return fmt.Errorf("pipe config target must differ from local (%s)", local)
	}

	listen := strings.TrimSpace(cfg.Listen)
	dial := strings.TrimSpace(cfg.Dial)
	switch {
	case listen == "" && dial == "":
		return fmt.Errorf("pipe config needs listen or dial")
	case listen != "" && dial != "":
		return fmt.Errorf("pipe config sets both listen and dial")
	case dial != "":
		u, err := url.Parse(dial)
		if err != nil {
			return fmt.Errorf("pipe config dial: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("pipe config dial must be a ws:// or wss:// url, got %q", dial)
		}
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("pipe config path must start with /")
	}
	if cfg.DialAttempts < 0 {
		return fmt.Errorf("pipe config dial_attempts must not be negative")
	}

	if _, err := positiveDuration("timeout", cfg.Timeout); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.HandshakeTimeout) != "" {
		if _, err := positiveDuration("handshake_timeout", cfg.HandshakeTimeout); err != nil {
			return err
		}
	}
	return nil
}

func positiveDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("pipe config %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("pipe config %s must be positive, got %s", field, raw)
	}
	return d, nil
}
