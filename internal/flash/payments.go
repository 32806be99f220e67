package flash

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 20
	maxMemoLen     = 500
)

// BankDetails identifies a destination or source bank account.
type BankDetails struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name,omitempty"`
}

// PaymentResult is the backend's acknowledgment of a peer transfer.
type PaymentResult struct {
	TransactionID string  `json:"transaction_id"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// SettlementResult acknowledges a settlement or bank top-up request.
type SettlementResult struct {
	SettlementID string  `json:"settlement_id"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
}

// TransferStatus is the state of an in-flight settlement or top-up.
type TransferStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

// PaymentLink is a hosted card-payment page for topping up.
type PaymentLink struct {
	PaymentURL string `json:"payment_url"`
}

func validateAmount(amount float64) error {
	if amount <= 0 {
		return newAPIError(KindInvalidAmount, "invalid amount, must be greater than 0")
	}
	return nil
}

// SendToUsername moves funds to another Flash user. Gated on the flashSend
// capability; inputs are validated locally before any network round trip.
func (c *Client) SendToUsername(ctx context.Context, username string, amount float64, memo, currency string) (*PaymentResult, error) {
	if err := c.requireFeature(FeatureFlashSend); err != nil {
		return nil, err
	}
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return nil, newAPIError(KindInvalidUsername, "invalid username format, must be 3-20 characters")
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if len(memo) > maxMemoLen {
		return nil, newAPIError(KindInvalidAmount, "memo too long, maximum 500 characters")
	}

	var result PaymentResult
	err := c.restInto(ctx, http.MethodPost, "/flash/send-to-username", map[string]interface{}{
		"username": username,
		"amount":   amount,
		"memo":     memo,
		"currency": currency,
	}, &result)
	if err != nil {
		if IsKind(err, KindUserNotFound) {
			return nil, newAPIError(KindUserNotFound,
				fmt.Sprintf("user %q not found, please check the username and try again", username))
		}
		return nil, err
	}
	return &result, nil
}

// SettleToBank moves wallet balance out to an external bank account.
func (c *Client) SettleToBank(ctx context.Context, bank BankDetails, amount float64, currency string) (*SettlementResult, error) {
	if err := c.requireFeature(FeatureBankSettle); err != nil {
		return nil, err
	}
	if bank.BankCode == "" || bank.AccountNumber == "" || bank.AccountName == "" {
		return nil, newAPIError(KindInvalidBankAccount,
			"invalid bank details, please provide bank code, account number, and account name")
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var result SettlementResult
	err := c.restInto(ctx, http.MethodPost, "/flash/settle-to-bank", map[string]interface{}{
		"bank_code":      bank.BankCode,
		"account_number": bank.AccountNumber,
		"account_name":   bank.AccountName,
		"amount":         amount,
		"currency":       currency,
	}, &result)
	if err != nil {
		if IsKind(err, KindSettlementLimitExceeded) {
			return nil, newAPIError(KindSettlementLimitExceeded,
				"settlement amount exceeds daily limit, please try a smaller amount")
		}
		return nil, err
	}
	return &result, nil
}

// SettlementStatus looks up the state of a settlement. Invoked on demand by
// the caller; the client schedules no polling of its own.
func (c *Client) SettlementStatus(ctx context.Context, settlementID string) (*TransferStatus, error) {
	if err := c.requireFeature(FeatureBankSettle); err != nil {
		return nil, err
	}
	var status TransferStatus
	err := c.restInto(ctx, http.MethodGet, "/flash/settlement-status/"+url.PathEscape(settlementID), nil, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// TopupBank funds the wallet from an external bank account.
func (c *Client) TopupBank(ctx context.Context, bank BankDetails, amount float64, currency string) (*SettlementResult, error) {
	if err := c.requireFeature(FeatureBankTopup); err != nil {
		return nil, err
	}
	if bank.BankCode == "" || bank.AccountNumber == "" {
		return nil, newAPIError(KindInvalidBankAccount,
			"invalid bank details, please provide bank code and account number")
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var result SettlementResult
	err := c.restInto(ctx, http.MethodPost, "/flash/topup-bank", map[string]interface{}{
		"bank_code":      bank.BankCode,
		"account_number": bank.AccountNumber,
		"amount":         amount,
		"currency":       currency,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// FygaroPaymentLink requests a hosted card-payment page for a top-up. The
// backend redirects to returnURL once the card flow completes.
func (c *Client) FygaroPaymentLink(ctx context.Context, amount float64, currency, returnURL string) (*PaymentLink, error) {
	if err := c.requireFeature(FeatureFygaroTopup); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var link PaymentLink
	err := c.restInto(ctx, http.MethodPost, "/flash/fygaro-payment-link", map[string]interface{}{
		"amount":     amount,
		"currency":   currency,
		"return_url": returnURL,
	}, &link)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// TopupStatus looks up the state of a top-up.
func (c *Client) TopupStatus(ctx context.Context, topupID string) (*TransferStatus, error) {
	var status TransferStatus
	err := c.restInto(ctx, http.MethodGet, "/flash/topup-status/"+url.PathEscape(topupID), nil, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}
