package model

import "time"

// FieldKind is the type of input a signature field collects.
type FieldKind string

const (
	FieldSignature FieldKind = "signature"
	FieldInitial   FieldKind = "initial"
	FieldDate      FieldKind = "date"
	FieldText      FieldKind = "text"
)

// Valid reports whether k is a known field kind.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldSignature, FieldInitial, FieldDate, FieldText:
		return true
	}
	return false
}

// SignatureField is a placeholder on a document page. Position and size only
// matter for rendering.
type SignatureField struct {
	ID         string     `json:"id"`
	Kind       FieldKind  `json:"kind"`
	Page       int        `json:"page"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	Required   bool       `json:"required"`
	AssignedTo string     `json:"assignedTo"`
	Value      string     `json:"value,omitempty"`
	FilledAt   *time.Time `json:"filledAt,omitempty"`
}

// Filled reports whether the field carries a value.
func (f SignatureField) Filled() bool {
	return f.Value != ""
}

// SignerStatus tracks one signer's progress.
type SignerStatus string

const (
	SignerPending  SignerStatus = "pending"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// Signer is a party asked to execute fields on a document.
type Signer struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	Role          string       `json:"role"`
	Status        SignerStatus `json:"status"`
	SignedAt      *time.Time   `json:"signedAt,omitempty"`
	DeclineReason string       `json:"declineReason,omitempty"`
}

// SignatureState is the lifecycle state of a signature request. StateExpired
// is never stored; it is derived at read time from ExpiresAt.
type SignatureState string

const (
	StateCreated            SignatureState = "created"
	StateFieldsPlaced       SignatureState = "fields_placed"
	StateAwaitingSignatures SignatureState = "awaiting_signatures"
	StateCompleted          SignatureState = "completed"
	StateRejected           SignatureState = "rejected"
	StateExpired            SignatureState = "expired"
)

// SignatureRequest aggregates the signers and fields of one signing round.
type SignatureRequest struct {
	ID          string                `json:"id"`
	DocumentID  string                `json:"documentId"`
	CreatedBy   Actor                 `json:"createdBy"`
	Terms       TransactionAttributes `json:"terms"`
	State       SignatureState        `json:"state"`
	Signers     []Signer              `json:"signers"`
	Fields      []SignatureField      `json:"fields"`
	CreatedAt   time.Time             `json:"createdAt"`
	ExpiresAt   time.Time             `json:"expiresAt"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
	RejectedAt  *time.Time            `json:"rejectedAt,omitempty"`
	Version     int                   `json:"version"`
}

// StateAt returns the effective state at now, folding in expiry.
func (r SignatureRequest) StateAt(now time.Time) SignatureState {
	switch r.State {
	case StateCompleted, StateRejected:
		return r.State
	}
	if now.After(r.ExpiresAt) {
		return StateExpired
	}
	return r.State
}

// Live reports whether the request can still progress at now.
func (r SignatureRequest) Live(now time.Time) bool {
	switch r.StateAt(now) {
	case StateCompleted, StateRejected, StateExpired:
		return false
	}
	return true
}

// Complete reports whether every required field has a value.
func (r SignatureRequest) Complete() bool {
	for _, f := range r.Fields {
		if f.Required && !f.Filled() {
			return false
		}
	}
	return true
}

// FieldsOnPage returns the fields placed on page in declaration order.
func (r SignatureRequest) FieldsOnPage(page int) []SignatureField {
	var out []SignatureField
	for _, f := range r.Fields {
		if f.Page == page {
			out = append(out, f)
		}
	}
	return out
}

// FieldsFor returns the fields assigned to signerID in declaration order.
func (r SignatureRequest) FieldsFor(signerID string) []SignatureField {
	var out []SignatureField
	for _, f := range r.Fields {
		if f.AssignedTo == signerID {
			out = append(out, f)
		}
	}
	return out
}

// Signer finds a signer by id.
func (r SignatureRequest) Signer(id string) (int, bool) {
	for i := range r.Signers {
		if r.Signers[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy so mutations never leak into stored state.
func (r SignatureRequest) Clone() SignatureRequest {
	out := r
	out.Signers = append([]Signer(nil), r.Signers...)
	out.Fields = append([]SignatureField(nil), r.Fields...)
	return out
}
