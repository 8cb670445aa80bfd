package funding

import "github.com/congo-pay/billpay/internal/money"

// TopUpRequest captures the amount a user wants to add to the wallet.
type TopUpRequest struct {
	Amount money.Amount `json:"amount"`
	Email  string       `json:"email"`
}
