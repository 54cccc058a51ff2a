// internal/model/campaign.go
package model

// Campaign approval states. Only approved campaigns may have their messages dequeued.
const (
	ApprovalApproved = "approved"
	ApprovalPending  = "pending"
	ApprovalRejected = "rejected"
)

type Campaign struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	ApprovalStatus string `db:"approval_status" json:"approval_status"`
	FromAddress    string `db:"from_address" json:"from_address,omitempty"`
	ReplyTo        string `db:"reply_to" json:"reply_to,omitempty"`
}

func (c *Campaign) Approved() bool {
	return c != nil && c.ApprovalStatus == ApprovalApproved
}
