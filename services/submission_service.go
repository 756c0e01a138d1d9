// services/submission_service.go
package services

import (
	"context"
	"strings"

	"jtrace-service/blobstore"
	"jtrace-service/fault"
	"jtrace-service/grants"
	"jtrace-service/ledger"
	"jtrace-service/models"

	"go.uber.org/zap"
)

// Anchorer anchors a content fingerprint on the ledger.
type Anchorer interface {
	Anchor(ctx context.Context, from, fingerprint, category string) (string, error)
}

// MedicalRecordForm is the document pinned to the blob store. Field names
// follow the upload form so pinned documents stay readable by the web client.
type MedicalRecordForm struct {
	PatientName      string   `json:"patientName"`
	NoPesertaJKN     string   `json:"noPesertaJKN"`
	Diagnosis        string   `json:"diagnosis"`
	Treatment        string   `json:"treatment"`
	DoctorName       string   `json:"doctorName"`
	FaskesName       string   `json:"faskesName"`
	VisitDate        string   `json:"visitDate"`
	Attachments      []string `json:"attachments"`
	Signature        string   `json:"signature"`
	HashVerification string   `json:"hashVerification"`
	WalletUploader   string   `json:"walletUploader"`
}

type SubmitInput struct {
	Wallet      string            `json:"wallet_address"`
	Category    string            `json:"category"`
	ReferenceNo string            `json:"reference_no"`
	Form        MedicalRecordForm `json:"record"`
	Lines       []LineInput       `json:"lines"`
}

type SubmitResult struct {
	Record      *models.Record `json:"record"`
	Fingerprint string         `json:"fingerprint"`
	Category    string         `json:"category"`
	TxRef       string         `json:"tx_ref"`
}

// SubmissionService runs the full submission: register the wallet, pin the
// document, anchor its fingerprint, then persist the record.
type SubmissionService struct {
	users   *UserService
	records *RecordService
	blobs   blobstore.Store
	ledger  Anchorer
	audit   *grants.AuditStream
	logger  *zap.Logger
}

func NewSubmissionService(users *UserService, records *RecordService, blobs blobstore.Store, ledger Anchorer, audit *grants.AuditStream, logger *zap.Logger) *SubmissionService {
	return &SubmissionService{
		users:   users,
		records: records,
		blobs:   blobs,
		ledger:  ledger,
		audit:   audit,
		logger:  logger.Named("submission"),
	}
}

// Submit persists nothing unless both the pin and the anchor succeed. An
// anchor that times out returns the transaction reference in the error; the
// record is not stored and the caller must check the ledger before retrying.
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	user, err := s.users.EnsureUser(ctx, in.Wallet)
	if err != nil {
		return nil, err
	}

	form := in.Form
	form.WalletUploader = user.WalletAddress
	if form.Attachments == nil {
		form.Attachments = []string{}
	}

	fingerprint, err := s.blobs.Pin(ctx, blobstore.PinName(form.PatientName, form.VisitDate), form)
	if err != nil {
		s.logger.Error("pin failed", zap.String("wallet", user.WalletAddress), zap.Error(err))
		return nil, fault.StoreError(err, "failed to pin record payload")
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = strings.TrimSpace(form.Diagnosis)
	}
	if category == "" {
		category = ledger.DefaultCategory
	}

	txRef, err := s.ledger.Anchor(ctx, user.WalletAddress, fingerprint, category)
	if err != nil {
		s.logger.Warn("anchor failed, record not stored",
			zap.String("fingerprint", fingerprint),
			zap.String("tx_ref", txRef),
			zap.Error(err),
		)
		return nil, err
	}
	s.audit.Publish(ctx, grants.Event{
		Type:        grants.EventAnchored,
		Owner:       user.WalletAddress,
		Fingerprint: fingerprint,
		TxRef:       txRef,
	})

	reference := in.ReferenceNo
	if strings.TrimSpace(reference) == "" {
		reference = form.NoPesertaJKN
	}
	rec, err := s.records.CreateRecord(ctx, CreateRecordInput{
		OwnerUserID: user.ID,
		ReferenceNo: reference,
		Attachment:  fingerprint,
		LedgerTxRef: txRef,
		Lines:       in.Lines,
	})
	if err != nil {
		// Anchored but not stored; the ledger mirror still carries it.
		s.logger.Error("anchored record not persisted",
			zap.String("fingerprint", fingerprint),
			zap.String("tx_ref", txRef),
			zap.Error(err),
		)
		return nil, err
	}

	return &SubmitResult{Record: rec, Fingerprint: fingerprint, Category: category, TxRef: txRef}, nil
}
