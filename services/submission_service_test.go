package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"jtrace-service/fault"
	"jtrace-service/grants"
	"jtrace-service/ledger"
	"jtrace-service/ledger/ledgertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBlobStore struct {
	mu       sync.Mutex
	cid      string
	err      error
	names    []string
	payloads []any
}

func (f *fakeBlobStore) Pin(ctx context.Context, name string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, name)
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return "", f.err
	}
	return f.cid, nil
}

type submissionFixture struct {
	svc      *SubmissionService
	records  *RecordService
	blobs    *fakeBlobStore
	client   *ledger.Client
	contract *ledgertest.Contract
}

func newSubmissionFixture(t *testing.T) submissionFixture {
	t.Helper()
	db := newTestDB(t)
	users := NewUserService(db, zap.NewNop())
	records := NewRecordService(db, false, zap.NewNop())
	client, contract := newTestLedger(t)
	_, rdb := newTestRedis(t)
	blobs := &fakeBlobStore{cid: "bafy123"}
	svc := NewSubmissionService(users, records, blobs, client, grants.NewAuditStream(rdb, "", zap.NewNop()), zap.NewNop())
	return submissionFixture{svc: svc, records: records, blobs: blobs, client: client, contract: contract}
}

func TestSubmit_EndToEnd(t *testing.T) {
	f := newSubmissionFixture(t)
	f.contract.QueueTxRefs("0xabc")
	ctx := context.Background()

	res, err := f.svc.Submit(ctx, SubmitInput{
		Wallet: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Form: MedicalRecordForm{
			PatientName: "Jane Doe",
			VisitDate:   "2025-03-01",
			Attachments: []string{"scan.pdf"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "bafy123", res.Fingerprint)
	assert.Equal(t, "General Record", res.Category)
	assert.Equal(t, "0xabc", res.TxRef)
	assert.Equal(t, "bafy123", res.Record.Attachment)
	assert.Equal(t, "0xabc", res.Record.LedgerTxRef)
	assert.Equal(t, walletA, res.Record.Owner.WalletAddress)

	require.Len(t, f.blobs.names, 1)
	assert.Equal(t, "record-jane-doe-2025-03-01", f.blobs.names[0])
	pinned := f.blobs.payloads[0].(MedicalRecordForm)
	assert.Equal(t, walletA, pinned.WalletUploader)

	onLedger, err := f.client.ReadRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bafy123", onLedger.ContentFingerprint)
	assert.Equal(t, "General Record", onLedger.RecordType)
	assert.Equal(t, walletA, onLedger.Submitter)

	stored, err := f.records.ListRecords(ctx, &res.Record.OwnerUserID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "bafy123", stored[0].Attachment)
}

func TestSubmit_CategoryFromDiagnosis(t *testing.T) {
	f := newSubmissionFixture(t)

	res, err := f.svc.Submit(context.Background(), SubmitInput{
		Wallet: walletA,
		Form:   MedicalRecordForm{PatientName: "Jane", Diagnosis: "Influenza"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Influenza", res.Category)
}

func TestSubmit_PinFailureStoresNothing(t *testing.T) {
	f := newSubmissionFixture(t)
	f.blobs.err = errors.New("pinata down")

	_, err := f.svc.Submit(context.Background(), SubmitInput{Wallet: walletA})
	require.Error(t, err)
	assert.Equal(t, 0, f.contract.RecordCount())

	all, err := f.records.ListRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmit_AnchorFailureStoresNothing(t *testing.T) {
	f := newSubmissionFixture(t)
	f.contract.RejectSends(errors.New("insufficient funds"))

	_, err := f.svc.Submit(context.Background(), SubmitInput{Wallet: walletA})
	require.Error(t, err)
	assert.True(t, fault.IsLedgerSubmission(err))

	all, err := f.records.ListRecords(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmit_TimeoutCarriesTxRef(t *testing.T) {
	f := newSubmissionFixture(t)
	f.contract.HoldReceipts()
	f.contract.QueueTxRefs("0xslow")

	_, err := f.svc.Submit(context.Background(), SubmitInput{Wallet: walletA})
	require.Error(t, err)
	assert.True(t, fault.IsLedgerTimeout(err))
	assert.Equal(t, "0xslow", fault.TxRefOf(err))
}

func TestSubmit_InvalidWallet(t *testing.T) {
	f := newSubmissionFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitInput{Wallet: "nope"})
	assert.True(t, fault.IsValidation(err))
	assert.Empty(t, f.blobs.names)
}
