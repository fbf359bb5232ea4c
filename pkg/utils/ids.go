// pkg/utils/ids.go
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns a fresh identifier for a score run.
func NewRunID() string {
	return uuid.NewString()
}

// GenerateRandomID generates a short random hex ID (request tracing).
func GenerateRandomID(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)[:length]
}

// ValidRunID reports whether s parses as a run identifier.
func ValidRunID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
