package signature

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/signing"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingNotifier struct {
	calls []model.SignatureRequest
}

func (n *recordingNotifier) SignatureCompleted(_ context.Context, req model.SignatureRequest) error {
	n.calls = append(n.calls, req)
	return nil
}

type fixture struct {
	engine   *Engine
	store    *storage.MemoryStore
	clock    *clock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
	n := &recordingNotifier{}
	seq := 0
	store := storage.NewMemoryStore()
	e := NewEngine(store, activity.NewRecorder(), signing.NewSigner([]byte("secret")),
		WithClock(c.now),
		WithNotifier(n),
		WithIDs(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
	)
	_, err := store.Create(context.Background(), storage.Record{Document: model.Document{
		ID:                 "doc-1",
		Name:               "loan agreement.pdf",
		Category:           "loan_agreement",
		PageCount:          5,
		VerificationStatus: model.StatusVerified,
	}})
	require.NoError(t, err)
	return &fixture{engine: e, store: store, clock: c, notifier: n}
}

var creator = model.Actor{ID: "lender-1", Role: model.RoleLender}

func threeSigners() []SignerSpec {
	return []SignerSpec{
		{Name: "Ann", Email: "ann@example.com", Role: "borrower", Fields: []FieldSpec{
			{Kind: model.FieldSignature, Page: 5, Required: true},
			{Kind: model.FieldInitial, Page: 2, Required: true},
		}},
		{Name: "Ben", Email: "ben@example.com", Role: "co-borrower", Fields: []FieldSpec{
			{Kind: model.FieldSignature, Page: 5, Required: true},
			{Kind: model.FieldDate, Page: 5, Required: false},
		}},
		{Name: "Cat", Email: "cat@example.com", Role: "lender", Fields: []FieldSpec{
			{Kind: model.FieldSignature, Page: 5, Required: true},
		}},
	}
}

func (f *fixture) sent(t *testing.T) model.SignatureRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: threeSigners()})
	require.NoError(t, err)
	assert.Equal(t, model.StateFieldsPlaced, req.State)
	req, _, err = f.engine.Send(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingSignatures, req.State)
	return req
}

func valuesFor(req model.SignatureRequest, signerID, value string) map[string]string {
	out := map[string]string{}
	for _, fld := range req.FieldsFor(signerID) {
		if fld.Required {
			out[fld.ID] = value
		}
	}
	return out
}

func TestCompletesOnlyWhenEveryRequiredFieldFilled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	a, b, c := req.Signers[0].ID, req.Signers[1].ID, req.Signers[2].ID

	got, err := f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, a, "Ann")})
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingSignatures, got.State)

	got, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: b, Values: valuesFor(req, b, "Ben")})
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingSignatures, got.State)
	assert.Empty(t, f.notifier.calls)

	rec, err := f.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.SignaturePending, rec.Document.SignatureStatus)

	got, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: c, Values: valuesFor(req, c, "Cat")})
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
	require.NotNil(t, got.CompletedAt)
	for _, s := range got.Signers {
		assert.Equal(t, model.SignerSigned, s.Status, s.Name)
	}
	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, "doc-1", f.notifier.calls[0].DocumentID)

	rec, err = f.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.SignatureCompleted, rec.Document.SignatureStatus)
	assert.Equal(t, model.ActivitySignatureCompleted, rec.Activity[len(rec.Activity)-1].Type)

	// Completed requests are immutable.
	_, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: c, Values: valuesFor(req, c, "again")})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestPartialCaptureDoesNotComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	a := req.Signers[0].ID
	fields := req.FieldsFor(a)

	got, err := f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: map[string]string{fields[0].ID: "Ann"}})
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingSignatures, got.State)
	assert.Equal(t, model.SignerPending, got.Signers[0].Status)
}

func TestCaptureIsIdempotentPerSigner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	a, b := req.Signers[0].ID, req.Signers[1].ID
	payload := valuesFor(req, a, "Ann")

	first, err := f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: payload})
	require.NoError(t, err)
	f.clock.advance(time.Minute)
	second, err := f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: payload})
	require.NoError(t, err)

	assert.Equal(t, first.Fields, second.Fields)
	assert.Len(t, second.Fields, len(req.Fields))
	assert.Equal(t, first.Signers[0].SignedAt, second.Signers[0].SignedAt)

	// Overwriting A never touches B.
	_, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: b, Values: valuesFor(req, b, "Ben")})
	require.NoError(t, err)
	third, err := f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, a, "Ann v2")})
	require.NoError(t, err)
	for _, fld := range third.FieldsFor(b) {
		if fld.Required {
			assert.Equal(t, "Ben", fld.Value)
		}
	}
}

func TestCaptureRejectsForeignFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	a, b := req.Signers[0].ID, req.Signers[1].ID

	_, err := f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, b, "forged")})
	assert.True(t, errors.Is(err, model.ErrUnknownField))

	got, err := f.engine.Get(ctx, "doc-1")
	require.NoError(t, err)
	for _, fld := range got.Fields {
		assert.Empty(t, fld.Value)
	}
}

func TestExpiredRequestRejectsCapture(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	a := req.Signers[0].ID

	f.clock.advance(DefaultTTL + time.Second)
	got, err := f.engine.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, got.State)

	_, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, a, "Ann")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrExpired))
	assert.Contains(t, err.Error(), "expired")
	assert.NotContains(t, err.Error(), "not yet completed")

	_, err = f.engine.Reject(ctx, "doc-1", a, "too late")
	assert.True(t, errors.Is(err, model.ErrExpired))

	// Re-issuing is explicit and keeps the old request in history.
	fresh, err := f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: threeSigners()})
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, fresh.ID)
	rec, err := f.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rec.SignatureHistory, 1)
	assert.Equal(t, model.StateExpired, rec.SignatureHistory[0].State)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	b := req.Signers[1].ID

	got, err := f.engine.Reject(ctx, "doc-1", b, "wrong rate")
	require.NoError(t, err)
	assert.Equal(t, model.StateRejected, got.State)
	assert.Equal(t, model.SignerDeclined, got.Signers[1].Status)
	assert.Equal(t, "wrong rate", got.Signers[1].DeclineReason)

	rec, err := f.store.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.SignatureRejected, rec.Document.SignatureStatus)

	a := req.Signers[0].ID
	_, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, a, "Ann")})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	_, err = f.engine.Reject(ctx, "doc-1", a, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestCreateGates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: []SignerSpec{{Name: "x"}}})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: []SignerSpec{
		{Name: "x", Email: "x@example.com", Fields: []FieldSpec{{Kind: model.FieldSignature, Page: 9}}},
	}})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	_, err = f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: threeSigners()})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: threeSigners()})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	_, err = f.store.Create(ctx, storage.Record{Document: model.Document{ID: "doc-2", VerificationStatus: model.StatusProcessing}})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, CreateRequest{DocumentID: "doc-2", CreatedBy: creator, Signers: threeSigners()})
	assert.True(t, errors.Is(err, model.ErrVerificationPending))

	now := f.clock.now()
	_, err = f.store.Create(ctx, storage.Record{
		Document: model.Document{ID: "doc-3", VerificationStatus: model.StatusVerified},
		Lock:     model.LockRecord{IsLocked: true, LockedAt: &now},
	})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, CreateRequest{DocumentID: "doc-3", CreatedBy: creator, Signers: threeSigners()})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestPlaceFieldsAndAutoAssign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req, err := f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: []SignerSpec{
		{Name: "Ann", Email: "ann@example.com"},
		{Name: "Ben", Email: "ben@example.com"},
	}})
	require.NoError(t, err)
	assert.Equal(t, model.StateCreated, req.State)
	ann, ben := req.Signers[0].ID, req.Signers[1].ID

	req, err = f.engine.PlaceFields(ctx, "doc-1", ann, []FieldSpec{
		{Kind: model.FieldInitial, Page: 1, Required: true},
		{Kind: model.FieldText, Page: 3},
		{Kind: model.FieldSignature, Page: 1, Required: true},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateFieldsPlaced, req.State)

	_, err = f.engine.PlaceFields(ctx, "doc-1", "ghost", []FieldSpec{{Kind: model.FieldText, Page: 1}})
	assert.True(t, errors.Is(err, model.ErrInvalidInput))

	// Signature capture before sending is not allowed.
	_, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: ann, Values: valuesFor(req, ann, "Ann")})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	req, invites, err := f.engine.Send(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, invites, 2)
	benFields := req.FieldsFor(ben)
	require.Len(t, benFields, 1)
	assert.Equal(t, 5, benFields[0].Page)
	assert.True(t, benFields[0].Required)

	page1, err := f.engine.FieldsOnPage(ctx, "doc-1", 1)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, model.FieldInitial, page1[0].Kind)
	assert.Equal(t, model.FieldSignature, page1[1].Kind)

	_, _, err = f.engine.Send(ctx, "doc-1")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	_, err = f.engine.PlaceFields(ctx, "doc-1", ann, []FieldSpec{{Kind: model.FieldText, Page: 1}})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestInvitations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.engine.Create(ctx, CreateRequest{DocumentID: "doc-1", CreatedBy: creator, Signers: threeSigners()})
	require.NoError(t, err)
	req, invites, err := f.engine.Send(ctx, "doc-1")
	require.NoError(t, err)

	inv := invites[0]
	exp := strconv.FormatInt(inv.Expires, 10)
	assert.Equal(t, req.ExpiresAt.Unix(), inv.Expires)
	assert.True(t, f.engine.ValidateInvitation(ctx, "doc-1", inv.SignerID, exp, inv.Token))
	assert.False(t, f.engine.ValidateInvitation(ctx, "doc-1", invites[1].SignerID, exp, inv.Token))

	f.clock.advance(DefaultTTL + time.Minute)
	assert.False(t, f.engine.ValidateInvitation(ctx, "doc-1", inv.SignerID, exp, inv.Token))
}

func TestPreviewDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	a := req.Signers[0].ID

	fields, err := f.engine.Preview(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, a, "Ann")})
	require.NoError(t, err)
	for _, fld := range fields {
		if fld.Required {
			assert.Equal(t, "Ann", fld.Value)
		}
	}

	got, err := f.engine.Get(ctx, "doc-1")
	require.NoError(t, err)
	for _, fld := range got.Fields {
		assert.Empty(t, fld.Value)
	}
}

func TestExpectedSignatureVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sent(t)
	a := req.Signers[0].ID

	stale := req.Version - 1
	_, err := f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, a, "Ann"), ExpectedVersion: &stale})
	assert.True(t, errors.Is(err, model.ErrConcurrentModification))

	_, err = f.engine.Capture(ctx, CaptureRequest{DocumentID: "doc-1", SignerID: a, Values: valuesFor(req, a, "Ann"), ExpectedVersion: &req.Version})
	assert.NoError(t, err)
}
