package internal

import (
	"os"
	"strconv"
)

// Config holds the environment-sourced settings the relay needs beyond the
// command-line flags already parsed in main. PORT is read here rather than
// only via flag.Int so the server works unmodified in environments (e.g.
// most PaaS targets) that inject the port as an environment variable.
type Config struct {
	Port int
}

// LoadConfig reads Config from the environment, falling back to port
// 8080 when PORT is unset or not a valid positive integer.
func LoadConfig() Config {
	port := 8080
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			port = p
		}
	}
	return Config{Port: port}
}
