package domain

type PaymentLinkRequest struct {
	// Amount is in minor currency units.
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}
