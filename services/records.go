// services/records.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"jtrace-service/fault"
	"jtrace-service/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LineInput is one detail line as received from a client. Debit and Credit
// are left untyped: clients send numbers, numeric strings, null or garbage.
type LineInput struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Debit  any    `json:"debit"`
	Credit any    `json:"credit"`
}

type CreateRecordInput struct {
	OwnerUserID uint        `json:"owner_user_id"`
	ReferenceNo string      `json:"reference_no"`
	Attachment  string      `json:"attachment"`
	LedgerTxRef string      `json:"ledger_tx_ref"`
	Lines       []LineInput `json:"lines"`
}

type RecordService struct {
	DB            *gorm.DB
	StrictAmounts bool

	now    func() time.Time
	logger *zap.Logger
}

func NewRecordService(db *gorm.DB, strictAmounts bool, logger *zap.Logger) *RecordService {
	return &RecordService{
		DB:            db,
		StrictAmounts: strictAmounts,
		now:           time.Now,
		logger:        logger.Named("records"),
	}
}

// CreateRecord writes the header and its lines in one transaction and
// returns the stored record with lines and owner loaded.
func (s *RecordService) CreateRecord(ctx context.Context, in CreateRecordInput) (*models.Record, error) {
	if in.OwnerUserID == 0 {
		return nil, fault.ValidationError("owner_user_id is required")
	}
	referenceNo := strings.TrimSpace(in.ReferenceNo)
	txRef := strings.TrimSpace(in.LedgerTxRef)
	if err := checkLen("reference_no", referenceNo, models.MaxReferenceNoLen); err != nil {
		return nil, err
	}
	if err := checkLen("ledger_tx_ref", txRef, models.MaxLedgerTxRefLen); err != nil {
		return nil, err
	}

	lines := make([]models.RecordLine, 0, len(in.Lines))
	for i, l := range in.Lines {
		debit, err := s.amount(i, "debit", l.Debit)
		if err != nil {
			return nil, err
		}
		credit, err := s.amount(i, "credit", l.Credit)
		if err != nil {
			return nil, err
		}
		code, label := strings.TrimSpace(l.Code), strings.TrimSpace(l.Label)
		if err := checkLen(fmt.Sprintf("lines[%d].code", i), code, models.MaxLineCodeLen); err != nil {
			return nil, err
		}
		if err := checkLen(fmt.Sprintf("lines[%d].label", i), label, models.MaxLineLabelLen); err != nil {
			return nil, err
		}
		lines = append(lines, models.RecordLine{
			Code:   code,
			Label:  label,
			Debit:  debit,
			Credit: credit,
		})
	}

	var recordID uint
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.Select("id").First(&owner, in.OwnerUserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundError("user %d not found", in.OwnerUserID)
			}
			return fault.StoreError(err, "failed to load owner")
		}

		rec := models.Record{
			OwnerUserID: in.OwnerUserID,
			ReferenceNo: referenceNo,
			Attachment:  strings.TrimSpace(in.Attachment),
			LedgerTxRef: txRef,
			CreatedAt:   s.now().UTC(),
		}
		if err := tx.Omit(clause.Associations).Create(&rec).Error; err != nil {
			return fault.StoreError(err, "failed to create record")
		}

		for i := range lines {
			lines[i].RecordID = rec.ID
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return fault.StoreError(err, "failed to create record lines")
			}
		}
		recordID = rec.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("record created",
		zap.Uint("record_id", recordID),
		zap.Uint("owner_user_id", in.OwnerUserID),
		zap.Int("lines", len(lines)),
	)
	return s.GetRecord(ctx, recordID)
}

func (s *RecordService) GetRecord(ctx context.Context, id uint) (*models.Record, error) {
	var rec models.Record
	err := s.withDetail(s.DB.WithContext(ctx)).First(&rec, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFoundError("record %d not found", id)
		}
		return nil, fault.StoreError(err, "failed to load record")
	}
	return &rec, nil
}

// ListRecords returns records newest first, optionally only those owned by
// ownerUserID. An owner with no records yields an empty list.
func (s *RecordService) ListRecords(ctx context.Context, ownerUserID *uint) ([]models.Record, error) {
	q := s.withDetail(s.DB.WithContext(ctx)).Order("created_at DESC").Order("id DESC")
	if ownerUserID != nil {
		q = q.Where("owner_user_id = ?", *ownerUserID)
	}

	records := []models.Record{}
	if err := q.Find(&records).Error; err != nil {
		return nil, fault.StoreError(err, "failed to list records")
	}
	return records, nil
}

func checkLen(field, v string, limit int) error {
	if utf8.RuneCountInString(v) > limit {
		return fault.ValidationError("%s is longer than %d characters", field, limit)
	}
	return nil
}

func (s *RecordService) withDetail(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Owner")
}

func (s *RecordService) amount(line int, field string, raw any) (decimal.Decimal, error) {
	d, ok := coerceAmount(raw)
	if ok {
		return d, nil
	}
	if s.StrictAmounts {
		return decimal.Zero, fault.ValidationError("lines[%d].%s: %v is not a non-negative amount", line, field, raw)
	}
	s.logger.Warn("amount coerced to zero",
		zap.Int("line", line),
		zap.String("field", field),
		zap.Any("value", raw),
	)
	return decimal.Zero, nil
}

// coerceAmount converts a decoded JSON value to a two-decimal amount. ok is
// false for non-numeric and negative values. Missing and null amounts are a
// valid zero.
func coerceAmount(raw any) (d decimal.Decimal, ok bool) {
	var err error
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, true
	case float64:
		d = decimal.NewFromFloat(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return decimal.Zero, true
		}
		d, err = decimal.NewFromString(s)
	case decimal.Decimal:
		d = v
	default:
		err = fmt.Errorf("unsupported amount type %T", raw)
	}
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d.Round(2), true
}
