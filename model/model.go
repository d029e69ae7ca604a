package model

import (
	"fmt"

	"github.com/google/uuid"
)

// Task statuses. A task starts as StatusPending and ends in exactly one of
// the terminal statuses; StatusRunning is the only status the reconciler
// picks up.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether no further automatic transition can
// happen from the given status.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// GenerateUUIDWithSuffix returns a new unique identifier prefixed with the
// owning module, e.g. "tsk_9f2c...".
func GenerateUUIDWithSuffix(module string) string {
	return fmt.Sprintf("%s_%s", module, uuid.New().String())
}
