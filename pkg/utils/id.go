package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateConnectionID generates a unique WebSocket connection ID
func GenerateConnectionID() string {
	return GenerateID("conn")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateID generates a random ID with prefix
func GenerateID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
