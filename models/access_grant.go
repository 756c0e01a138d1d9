package models

import "time"

// GrantState is the reconciliation state of one (owner, delegate) pair.
type GrantState string

const (
	// GrantStateUnknown: no ledger read has succeeded for the pair yet, or the
	// latest read failed.
	GrantStateUnknown GrantState = "unknown"
	GrantStateGranted GrantState = "granted"
	GrantStateRevoked GrantState = "revoked"
)

// Grant is one cached delegate entry of an owner's access list.
type Grant struct {
	Delegate  string     `json:"delegate"`
	Granted   bool       `json:"granted"`
	State     GrantState `json:"state"`
	CheckedAt time.Time  `json:"checked_at"`
}
