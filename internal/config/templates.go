package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "listen":
		return listenTemplate, nil
	case "dial":
		return dialTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const listenTemplate = `name = "pipe-host"
local = "http://host.local:9200"
target = "http://guest.local"
auth_key = "temp-auth-key"
timeout = "10s"
handshake_timeout = "5s"
verbose = false
listen = ":9200"
path = "/pipe"
echo = true
admin_addr = ":9201"
cors_origins = ["http://localhost:3000"]
`

const dialTemplate = `name = "pipe-guest"
local = "http://guest.local"
target = "http://host.local:9200"
auth_key = "temp-auth-key"
timeout = "10s"
handshake_timeout = "5s"
verbose = false
dial = "ws://localhost:9200/pipe"
dial_attempts = 10
echo = false
admin_addr = ":9202"
cors_origins = ["http://localhost:3000"]
`
