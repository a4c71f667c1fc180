package custody

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/retention"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

var lockTime = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

var lender = model.Actor{ID: "lender-1", Role: model.RoleLender}

func newManager(t *testing.T, opts ...Option) (*Manager, *storage.MemoryStore) {
	t.Helper()
	catalog, err := retention.NewCatalog([]retention.Policy{
		{ID: "lender-secure", Role: model.RoleLender, RetentionDays: 3650, InstrumentTypes: []string{"securitized_note"}, Strict: true, RequiredDocuments: []string{"loan agreement"}},
		{ID: "lender-standard", Role: model.RoleLender, RetentionDays: 2555, RequiredDocuments: []string{"loan agreement", "promissory note"}},
	})
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	opts = append([]Option{WithClock(func() time.Time { return lockTime })}, opts...)
	return NewManager(store, retention.NewResolver(catalog), activity.NewRecorder(), opts...), store
}

func addDoc(t *testing.T, store storage.Store, id, category string, status model.VerificationStatus) {
	t.Helper()
	_, err := store.Create(context.Background(), storage.Record{Document: model.Document{
		ID:                 id,
		Name:               id + ".pdf",
		Category:           category,
		TransactionID:      "txn-1",
		VerificationStatus: status,
		CreatedAt:          lockTime.Add(-time.Hour),
	}})
	require.NoError(t, err)
}

func TestVerifyAndLockAppliesRetention(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)

	lock, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender})
	require.NoError(t, err)
	assert.True(t, lock.IsLocked)
	assert.Equal(t, "lender-1", lock.LockedBy)
	require.NotNil(t, lock.LockedAt)
	assert.True(t, lock.LockedAt.Equal(lockTime))
	assert.True(t, lock.RetentionPolicyApplied)
	assert.Equal(t, "lender-standard", lock.RetentionPolicyID)
	require.NotNil(t, lock.RetentionEndDate)
	assert.True(t, lock.RetentionEndDate.Equal(lockTime.Add(2555*24*time.Hour)))
	assert.True(t, lock.CanBeUnlocked)
	assert.Equal(t, model.StatusVerified, lock.VerificationStatus)
	assert.Equal(t, 1, lock.Version)

	rec, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rec.Activity, 1)
	assert.Equal(t, model.ActivityLocked, rec.Activity[0].Type)
	assert.Equal(t, "2555", rec.Activity[0].Details["retentionDays"])
}

func TestVerifyAndLockWithoutMatchingPolicy(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "photo", "site_photo", model.StatusVerified)
	addDoc(t, store, "vendor-doc", "loan_agreement", model.StatusVerified)

	lock, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "photo", Actor: lender})
	require.NoError(t, err)
	assert.True(t, lock.IsLocked)
	assert.False(t, lock.RetentionPolicyApplied)
	assert.Nil(t, lock.RetentionEndDate)

	// No policy for the vendor role is not an error: the document simply has
	// no mandatory retention.
	lock, err = m.VerifyAndLock(ctx, LockRequest{DocumentID: "vendor-doc", Actor: model.Actor{ID: "v", Role: model.RoleVendor}})
	require.NoError(t, err)
	assert.True(t, lock.IsLocked)
	assert.False(t, lock.RetentionPolicyApplied)
}

func TestVerifyAndLockRejectsLockedDocument(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)

	_, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender})
	require.NoError(t, err)
	_, err = m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	var te *model.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "doc-1", te.DocumentID)
	assert.Equal(t, "locked", te.State)
	assert.Equal(t, "lock", te.Attempted)
}

func TestVerifyAndLockGatesOnVerification(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "processing", "loan_agreement", model.StatusProcessing)
	addDoc(t, store, "pending", "loan_agreement", model.StatusPending)
	addDoc(t, store, "failed", "loan_agreement", model.StatusFailed)

	_, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "processing", Actor: lender})
	assert.True(t, errors.Is(err, model.ErrVerificationPending))
	assert.Contains(t, err.Error(), "processing")
	_, err = m.VerifyAndLock(ctx, LockRequest{DocumentID: "pending", Actor: lender})
	assert.True(t, errors.Is(err, model.ErrVerificationPending))
	_, err = m.VerifyAndLock(ctx, LockRequest{DocumentID: "failed", Actor: lender})
	assert.True(t, errors.Is(err, model.ErrVerificationFailed))

	rec, err := store.Get(ctx, "processing")
	require.NoError(t, err)
	assert.False(t, rec.Lock.IsLocked)
	assert.Empty(t, rec.Activity)
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)

	// Unlocking an unlocked document is a no-op.
	lock, err := m.Unlock(ctx, UnlockRequest{DocumentID: "doc-1", Actor: lender})
	require.NoError(t, err)
	assert.False(t, lock.IsLocked)
	assert.Equal(t, 0, lock.Version)

	_, err = m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender})
	require.NoError(t, err)
	closer := model.Actor{ID: "closer-9", Role: model.RoleLender}
	lock, err = m.Unlock(ctx, UnlockRequest{DocumentID: "doc-1", Actor: closer})
	require.NoError(t, err)
	assert.False(t, lock.IsLocked)
	assert.True(t, lock.UnlockedAfterFunding)
	assert.Equal(t, "closer-9", lock.LockedBy)
	assert.False(t, lock.RetentionPolicyApplied)
	assert.Nil(t, lock.RetentionEndDate)
	assert.Equal(t, 2, lock.Version)

	lock, err = m.Unlock(ctx, UnlockRequest{DocumentID: "doc-1", Actor: closer})
	require.NoError(t, err)
	assert.Equal(t, 2, lock.Version)

	rec, err := store.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, rec.Activity, 2)
	assert.Equal(t, model.ActivityUnlocked, rec.Activity[1].Type)
	assert.Equal(t, "lender-1", rec.Activity[1].Details["previousLockedBy"])

	// The document can be locked again after release.
	_, err = m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender})
	require.NoError(t, err)
}

func TestUnlockStrictPolicy(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)

	lock, err := m.VerifyAndLock(ctx, LockRequest{
		DocumentID: "doc-1",
		Actor:      lender,
		Attributes: retention.Attributes{InstrumentType: "securitized_note"},
	})
	require.NoError(t, err)
	assert.False(t, lock.CanBeUnlocked)
	assert.True(t, lock.RetentionEndDate.Equal(lockTime.Add(3650*24*time.Hour)))

	_, err = m.Unlock(ctx, UnlockRequest{DocumentID: "doc-1", Actor: lender})
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	assert.Contains(t, err.Error(), "lender-secure")
}

func TestExpectedVersion(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)

	stale := 3
	_, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender, ExpectedVersion: &stale})
	assert.True(t, errors.Is(err, model.ErrConcurrentModification))

	current := 0
	lock, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender, ExpectedVersion: &current})
	require.NoError(t, err)

	_, err = m.Unlock(ctx, UnlockRequest{DocumentID: "doc-1", Actor: lender, ExpectedVersion: &current})
	assert.True(t, errors.Is(err, model.ErrConcurrentModification))
	_, err = m.Unlock(ctx, UnlockRequest{DocumentID: "doc-1", Actor: lender, ExpectedVersion: &lock.Version})
	assert.NoError(t, err)
}

func TestLockAllReportsPerDocument(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	for i := 1; i <= 5; i++ {
		status := model.StatusVerified
		if i == 3 {
			status = model.StatusProcessing
		}
		addDoc(t, store, fmt.Sprintf("doc-%d", i), "loan_agreement", status)
	}

	results, err := m.LockAll(ctx, LockAllRequest{TransactionID: "txn-1", Actor: lender})
	require.NoError(t, err)
	require.Len(t, results, 5)

	ok := 0
	for _, r := range results {
		if r.DocumentID == "doc-3" {
			assert.True(t, errors.Is(r.Err, model.ErrVerificationPending))
			assert.Nil(t, r.Lock)
			continue
		}
		require.NoError(t, r.Err)
		require.NotNil(t, r.Lock)
		assert.True(t, r.Lock.IsLocked)
		ok++
	}
	assert.Equal(t, 4, ok)

	// A second pass skips the locked documents and reports doc-3 again.
	results, err = m.LockAll(ctx, LockAllRequest{TransactionID: "txn-1", Actor: lender})
	require.NoError(t, err)
	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 4, skipped)
}

func TestLockAllRejectsForeignDocuments(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)
	_, err := store.Create(ctx, storage.Record{Document: model.Document{
		ID:                 "other-txn-doc",
		Category:           "loan_agreement",
		TransactionID:      "txn-2",
		VerificationStatus: model.StatusVerified,
	}})
	require.NoError(t, err)

	results, err := m.LockAll(ctx, LockAllRequest{
		TransactionID: "txn-1",
		DocumentIDs:   []string{"doc-1", "other-txn-doc"},
		Actor:         lender,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.True(t, results[0].Lock.IsLocked)
	assert.ErrorIs(t, results[1].Err, model.ErrInvalidInput)
	assert.Nil(t, results[1].Lock)

	rec, err := store.Get(ctx, "other-txn-doc")
	require.NoError(t, err)
	assert.False(t, rec.Lock.IsLocked)
}

func TestVerifyAndLockLongRetentionPeriod(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	catalog, err := retention.NewCatalog([]retention.Policy{
		{ID: "lender-permanent", Role: model.RoleLender, RetentionDays: 200000, RequiredDocuments: []string{"loan agreement"}},
	})
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	m := NewManager(store, retention.NewResolver(catalog), activity.NewRecorder(), WithClock(func() time.Time { return start }))
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)

	lock, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-1", Actor: lender})
	require.NoError(t, err)
	require.NotNil(t, lock.RetentionEndDate)
	require.NotNil(t, lock.LockedAt)
	assert.True(t, lock.RetentionEndDate.Equal(start.AddDate(0, 0, 200000)))
	assert.True(t, lock.RetentionEndDate.After(*lock.LockedAt))
	assert.Equal(t, 2573, lock.RetentionEndDate.Year())
}

func TestLockAllStopsOnCancel(t *testing.T) {
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := m.LockAll(ctx, LockAllRequest{TransactionID: "txn-1", Actor: lender})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)

	rec, err := store.Get(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, rec.Lock.IsLocked)
}

func TestSignatureCompletedAutoLock(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t, WithAutoLock(true))
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)
	addDoc(t, store, "doc-2", "loan_agreement", model.StatusVerified)

	_, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: "doc-2", Actor: lender})
	require.NoError(t, err)

	require.NoError(t, m.SignatureCompleted(ctx, model.SignatureRequest{ID: "sig-1", DocumentID: "doc-1", CreatedBy: lender}))
	lock, err := m.Custody(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, lock.IsLocked)

	// Already locked: the failure is recorded, not returned.
	require.NoError(t, m.SignatureCompleted(ctx, model.SignatureRequest{ID: "sig-2", DocumentID: "doc-2", CreatedBy: lender}))
	rec, err := store.Get(ctx, "doc-2")
	require.NoError(t, err)
	last := rec.Activity[len(rec.Activity)-1]
	assert.Equal(t, model.ActivityAutoLockFailed, last.Type)
	assert.Equal(t, "sig-2", last.Details["signatureRequest"])
}

func TestSignatureCompletedWithoutAutoLock(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	addDoc(t, store, "doc-1", "loan_agreement", model.StatusVerified)

	require.NoError(t, m.SignatureCompleted(ctx, model.SignatureRequest{DocumentID: "doc-1", CreatedBy: lender}))
	lock, err := m.Custody(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, lock.IsLocked)
}
