package documents

import "github.com/shopspring/decimal"

type createRequest struct {
	Title          string           `json:"title"`
	Category       string           `json:"category"`
	Date           string           `json:"date"`
	Amount         decimal.Decimal  `json:"amount"`
	Notes          string           `json:"notes"`
	Reimbursed     bool             `json:"reimbursed"`
	ReimbursedDate *string          `json:"reimbursedDate"`
}

type patchRequest struct {
	Title          *string          `json:"title"`
	Category       *string          `json:"category"`
	Date           *string          `json:"date"`
	Amount         *decimal.Decimal `json:"amount"`
	Notes          *string          `json:"notes"`
	Reimbursed     *bool            `json:"reimbursed"`
	ReimbursedDate *string          `json:"reimbursedDate"`
}

type listResponse struct {
	Documents []Document `json:"documents"`
}
