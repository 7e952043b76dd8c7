// Package validation checks user-supplied identifiers and addresses.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ValidateRecordingID accepts the UUIDs the recorder assigns.
func ValidateRecordingID(id string) error {
	if id == "" {
		return fmt.Errorf("recording ID is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid recording ID format")
	}
	return nil
}

// ValidateStreamEndpoint validates a ws:// or wss:// server endpoint.
func ValidateStreamEndpoint(endpoint string) error {
	return validateURL(endpoint, "ws", "wss")
}

// ValidateHTTPURL validates an http:// or https:// URL.
func ValidateHTTPURL(rawURL string) error {
	return validateURL(rawURL, "http", "https")
}

func validateURL(rawURL string, schemes ...string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	valid := false
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid URL scheme %q (must be %s)", u.Scheme, strings.Join(schemes, " or "))
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateObjectName rejects archive object names that are empty, absolute
// or climb out of their prefix.
func ValidateObjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("object name is required")
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("object name %q must be relative", name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return fmt.Errorf("object name %q escapes its prefix", name)
		}
	}
	return nil
}
