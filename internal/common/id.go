package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewSessionID generates a unique session ID with the "session_" prefix
func NewSessionID() string {
	return "session_" + uuid.New().String()
}

// NewFileID generates a unique file ID with the "file_" prefix
func NewFileID() string {
	return "file_" + uuid.New().String()
}

// NewPatternID generates a unique pattern ID with the "pattern_" prefix
func NewPatternID() string {
	return "pattern_" + uuid.New().String()
}

// NewAuditID generates a unique audit entry ID with the "audit_" prefix
func NewAuditID() string {
	return "audit_" + uuid.New().String()
}
