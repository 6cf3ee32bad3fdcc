// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ParseString reads a string env var with a default.
func ParseString(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return defaultValue
}

// ParseInt reads an integer env var with a default. Malformed values fall
// back to the default.
func ParseInt(key string, defaultValue int) int {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ParseBool reads a boolean env var with a default. Accepts the usual
// strconv spellings plus "yes"/"no"/"on"/"off".
func ParseBool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return defaultValue
}

// ParseDuration reads a duration env var with a default. Bare integers are
// interpreted as seconds.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	trimmed := strings.TrimSpace(v)
	if parsed, err := time.ParseDuration(trimmed); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(trimmed); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
