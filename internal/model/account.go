// internal/model/account.go
package model

// Account is one registered user as listed by the identity directory.
type Account struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"email_confirmed"`
	Unsubscribed   bool   `json:"unsubscribed"`
}

// EligibleRecipient is an account that passed every eligibility rule.
type EligibleRecipient struct {
	AccountID   string  `json:"account_id"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name,omitempty"`
}
