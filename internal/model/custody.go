package model

import "time"

// LockRecord is the custody state of one document. RetentionEndDate is only
// set when RetentionPolicyApplied is true and then equals LockedAt plus the
// policy period.
type LockRecord struct {
	IsLocked               bool               `json:"isLocked"`
	LockedBy               string             `json:"lockedBy,omitempty"`
	LockedAt               *time.Time         `json:"lockedAt,omitempty"`
	CanBeUnlocked          bool               `json:"canBeUnlocked"`
	UnlockedAfterFunding   bool               `json:"unlockedAfterFunding"`
	RetentionPolicyApplied bool               `json:"retentionPolicyApplied"`
	RetentionPolicyID      string             `json:"retentionPolicyId,omitempty"`
	RetentionEndDate       *time.Time         `json:"retentionEndDate,omitempty"`
	VerificationStatus     VerificationStatus `json:"verificationStatus"`
	Version                int                `json:"version"`
}

// Status derives the custody status.
func (l LockRecord) Status() CustodyStatus {
	if l.IsLocked {
		return CustodyLocked
	}
	return CustodyUnlocked
}
