package domain

// Principal is the authenticated caller. AccountID is empty when no mailbox account was selected.
type Principal struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id,omitempty"`
}
