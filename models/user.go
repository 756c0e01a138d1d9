package models

import (
	"time"
)

// User is the internal identity behind a wallet. Rows are created lazily the
// first time a wallet is seen and are never deleted.
type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WalletAddress string    `gorm:"type:varchar(42);uniqueIndex;not null" json:"wallet_address"` // lower-cased
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}
