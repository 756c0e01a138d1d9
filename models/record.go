package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Column widths of the bounded text fields, in characters.
const (
	MaxReferenceNoLen = 128
	MaxLedgerTxRefLen = 80
	MaxLineCodeLen    = 64
	MaxLineLabelLen   = 255
)

// Record is a journal entry or medical-record header. Its lines are created
// in the same transaction and removed only by cascade.
type Record struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	OwnerUserID uint      `gorm:"index;not null" json:"owner_user_id"`
	ReferenceNo string    `gorm:"type:varchar(128)" json:"reference_no"`
	Attachment  string    `gorm:"type:text" json:"attachment"` // blob store content identifier
	LedgerTxRef string    `gorm:"type:varchar(80);index" json:"ledger_tx_ref"`
	CreatedAt   time.Time `gorm:"index;not null" json:"created_at"`

	Owner User         `gorm:"foreignKey:OwnerUserID;constraint:OnDelete:RESTRICT" json:"owner"`
	Lines []RecordLine `gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE" json:"lines"`
}

// RecordLine is one detail line of a Record.
type RecordLine struct {
	ID       uint            `gorm:"primaryKey" json:"id"`
	RecordID uint            `gorm:"index;not null" json:"record_id"`
	Code     string          `gorm:"type:varchar(64)" json:"code"`
	Label    string          `gorm:"type:varchar(255)" json:"label"`
	Debit    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"debit"`
	Credit   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"credit"`
}
