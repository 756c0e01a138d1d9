package models

import "time"

// LedgerRecord mirrors one anchored entry read back from the ledger contract.
// Table name: ledger_records
type LedgerRecord struct {
	SequenceID         uint64    `gorm:"primaryKey;autoIncrement:false" json:"sequence_id"`
	Subject            string    `gorm:"type:varchar(42);index" json:"subject"`
	Submitter          string    `gorm:"type:varchar(42);index" json:"submitter"`
	ContentFingerprint string    `gorm:"type:text;not null" json:"content_fingerprint"`
	RecordType         string    `gorm:"type:varchar(255)" json:"record_type"`
	Timestamp          time.Time `json:"timestamp"`
	MirroredAt         time.Time `gorm:"autoUpdateTime" json:"mirrored_at,omitempty"`
}
