package flash

import (
	"context"
	"fmt"
	"net/http"
)

// Bank is one entry from the supported-banks directory.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// BankAccountValidation is the backend's verdict on an account number.
type BankAccountValidation struct {
	Valid       bool   `json:"valid"`
	AccountName string `json:"account_name"`
}

// Balance is the wallet's current balance.
type Balance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Transaction is one wallet ledger entry.
type Transaction struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Memo      string  `json:"memo"`
	CreatedAt string  `json:"created_at"`
}

// SupportedBanks lists the banks available for settlement and top-up.
func (c *Client) SupportedBanks(ctx context.Context) ([]Bank, error) {
	var payload struct {
		Banks []Bank `json:"banks"`
	}
	if err := c.restInto(ctx, http.MethodGet, "/flash/supported-banks", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Banks, nil
}

// ValidateBankAccount asks the backend whether the account exists at the
// given bank.
func (c *Client) ValidateBankAccount(ctx context.Context, bankCode, accountNumber string) (*BankAccountValidation, error) {
	var result BankAccountValidation
	err := c.restInto(ctx, http.MethodPost, "/flash/validate-bank-account", map[string]interface{}{
		"bank_code":      bankCode,
		"account_number": accountNumber,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance fetches the current wallet balance.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var balance Balance
	if err := c.restInto(ctx, http.MethodGet, "/flash/balance", nil, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// TransactionHistory pages through the wallet ledger, newest first.
func (c *Client) TransactionHistory(ctx context.Context, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var payload struct {
		Transactions []Transaction `json:"transactions"`
	}
	path := fmt.Sprintf("/flash/transactions?limit=%d&offset=%d", limit, offset)
	if err := c.restInto(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Transactions, nil
}
