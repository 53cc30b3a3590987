package model

import "context"

// FinanceRecord is the slice of a finance-service record the approval engine
// cares about: the monetary context copied onto a finance-target approval at
// creation time.
type FinanceRecord struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// FinanceLookup is the read-only collaborator consulted once, at creation
// time, for finance-target approvals. Implementations must not retry on
// failure; a missing record is reported as a NOT_FOUND envelope.
type FinanceLookup interface {
	FindByID(ctx context.Context, id string) (FinanceRecord, error)
}
