package model

import "time"

// Account is a user's reward balance. CreditBalance always equals TotalEarned - TotalRedeemed.
type Account struct {
	UserID           string    `json:"user_id"`
	CreditBalance    int64     `json:"credits"`
	BottlesSubmitted int64     `json:"bottles_submitted"`
	TotalEarned      int64     `json:"total_earned"`
	TotalRedeemed    int64     `json:"total_redeemed"`
	Version          int64     `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BottleSubmission is the audit record of one accepted submission.
type BottleSubmission struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	CreditsAwarded   int64     `json:"credits_awarded"`
	ResultingBalance int64     `json:"resulting_balance"`
}

// Redemption is the audit record of one successful redemption.
type Redemption struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	ItemID           string    `json:"item_id"`
	CreditsSpent     int64     `json:"credits_spent"`
	ResultingBalance int64     `json:"resulting_balance"`
}

// AccountState is everything the ledger keeps for one account, oldest records first.
type AccountState struct {
	Account     Account
	Submissions []BottleSubmission
	Redemptions []Redemption
}

// StoreItem is a redeemable reward.
type StoreItem struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	Cost        int64  `json:"cost" yaml:"cost"`
}

// SubmitResult is returned by a successful bottle submission.
type SubmitResult struct {
	CreditsAwarded int64            `json:"credits_earned"`
	NewBalance     int64            `json:"new_balance"`
	Record         BottleSubmission `json:"record"`
	Account        Account          `json:"user"`
}

// RedeemResult is returned by a successful redemption.
type RedeemResult struct {
	Success    bool       `json:"success"`
	NewBalance int64      `json:"new_balance"`
	Record     Redemption `json:"record"`
	Account    Account    `json:"user"`
}
