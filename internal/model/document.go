// Package model contains the records shared by the custody, signature and
// verification components.
package model

import (
	"time"
)

// Role identifies which party of a lending transaction is acting.
type Role string

const (
	RoleLender   Role = "lender"
	RoleBroker   Role = "broker"
	RoleBorrower Role = "borrower"
	RoleVendor   Role = "vendor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleLender, RoleBroker, RoleBorrower, RoleVendor:
		return true
	}
	return false
}

// Actor is the caller-supplied identity performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// VerificationStatus describes where a document is in the verification
// pipeline. StatusPending means nothing was submitted yet.
type VerificationStatus string

const (
	StatusPending    VerificationStatus = "pending"
	StatusSubmitted  VerificationStatus = "submitted"
	StatusProcessing VerificationStatus = "processing"
	StatusVerified   VerificationStatus = "verified"
	StatusFailed     VerificationStatus = "failed"
)

// Terminal reports whether no further callbacks are expected for the status.
func (s VerificationStatus) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

// CustodyStatus is derived from the lock record.
type CustodyStatus string

const (
	CustodyUnlocked CustodyStatus = "unlocked"
	CustodyLocked   CustodyStatus = "locked"
)

// SignatureStatus is the document-level summary of its signature workflow.
type SignatureStatus string

const (
	SignatureNone      SignatureStatus = "none"
	SignaturePending   SignatureStatus = "pending"
	SignatureCompleted SignatureStatus = "completed"
	SignatureRejected  SignatureStatus = "rejected"
)

// Document is the metadata this engine keeps about an uploaded file. The
// bytes themselves live in the content store under ContentRef.
type Document struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Category           string             `json:"category"`
	Owner              string             `json:"owner"`
	TransactionID      string             `json:"transactionId,omitempty"`
	ContentRef         string             `json:"contentRef,omitempty"`
	ContentType        string             `json:"contentType,omitempty"`
	Size               int64              `json:"size,omitempty"`
	PageCount          int                `json:"pageCount,omitempty"`
	VerificationStatus VerificationStatus `json:"verificationStatus"`
	SignatureStatus    SignatureStatus    `json:"signatureStatus"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// VerificationAttempt is one submission to the verification collaborator.
type VerificationAttempt struct {
	TrackingID        string             `json:"trackingId"`
	Status            VerificationStatus `json:"status"`
	SubmittedAt       time.Time          `json:"submittedAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	ExtractedText     string             `json:"extractedText,omitempty"`
	ConfidenceScore   *float64           `json:"confidenceScore,omitempty"`
	VerificationToken string             `json:"externalVerificationToken,omitempty"`
	FailureReason     string             `json:"failureReason,omitempty"`
}

// Verification holds the current attempt plus every earlier one. Attempts are
// kept in submission order; the last one is current.
type Verification struct {
	Attempts []VerificationAttempt `json:"attempts,omitempty"`
}

// Current returns the latest attempt, if any.
func (v Verification) Current() (VerificationAttempt, bool) {
	if len(v.Attempts) == 0 {
		return VerificationAttempt{}, false
	}
	return v.Attempts[len(v.Attempts)-1], true
}

// Attempt finds the attempt with the given tracking id.
func (v Verification) Attempt(trackingID string) (int, bool) {
	for i := range v.Attempts {
		if v.Attempts[i].TrackingID == trackingID {
			return i, true
		}
	}
	return -1, false
}

// TransactionAttributes are the optional attributes of the lending
// transaction a document belongs to. They refine retention policy selection.
type TransactionAttributes struct {
	CollateralType string `json:"collateralType,omitempty"`
	RequestType    string `json:"requestType,omitempty"`
	InstrumentType string `json:"instrumentType,omitempty"`
}
