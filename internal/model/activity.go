package model

import "time"

// ActivityType names the kind of event recorded in a document's activity log.
type ActivityType string

const (
	ActivityRegistered          ActivityType = "document_registered"
	ActivityVerificationSubmit  ActivityType = "verification_submitted"
	ActivityVerificationStarted ActivityType = "verification_processing"
	ActivityVerified            ActivityType = "verification_verified"
	ActivityVerificationFailed  ActivityType = "verification_failed"
	ActivityLocked              ActivityType = "document_locked"
	ActivityUnlocked            ActivityType = "document_unlocked"
	ActivitySignatureCreated    ActivityType = "signature_request_created"
	ActivityFieldsPlaced        ActivityType = "signature_fields_placed"
	ActivitySignatureSent       ActivityType = "signature_request_sent"
	ActivitySignatureCaptured   ActivityType = "signature_captured"
	ActivitySignatureCompleted  ActivityType = "signature_completed"
	ActivitySignatureRejected   ActivityType = "signature_rejected"
	ActivityAutoLockFailed      ActivityType = "auto_lock_failed"
)

// ActivityEntry is an immutable audit record.
type ActivityEntry struct {
	ID        string            `json:"id"`
	Type      ActivityType      `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     string            `json:"actor"`
	Details   map[string]string `json:"details,omitempty"`
}
