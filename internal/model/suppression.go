package model

import "time"

const (
	SuppressionUnsubscribe = "unsubscribe"
	SuppressionComplaint   = "complaint"
	SuppressionManual      = "manual"
)

// ConsentRecord marks an address that must never receive further sends.
type ConsentRecord struct {
	Email     string    `db:"email" json:"email"`
	Reason    string    `db:"reason" json:"reason"`
	Source    string    `db:"source" json:"source"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
