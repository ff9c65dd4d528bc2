// Package util provides small helpers shared across fieldbot components.
package util

import "github.com/google/uuid"

// GenerateSessionID returns a unique identifier for one interview session.
// Persisted artifacts (photo blobs, audio notes) are namespaced under it.
func GenerateSessionID() string {
	return "s_" + uuid.NewString()
}
