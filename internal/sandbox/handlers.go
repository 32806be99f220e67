package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type contextKey string

const accountIDKey contextKey = "accountID"

var errMissingAccount = errors.New("account no longer exists")

// supportedBanks is the static directory served to clients.
var supportedBanks = []map[string]string{
	{"code": "NCB", "name": "National Commercial Bank"},
	{"code": "BNS", "name": "Scotiabank Jamaica"},
	{"code": "JMMB", "name": "JMMB Bank"},
	{"code": "JN", "name": "JN Bank"},
	{"code": "SAG", "name": "Sagicor Bank"},
}

// requireAccessToken guards the wallet endpoints. Expired or malformed
// bearer tokens get a 401 so clients can run their refresh path.
func (s *Server) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, err := s.authenticate(r)
		if err == nil {
			s.mu.Lock()
			_, known := s.accounts[accountID]
			s.mu.Unlock()
			if !known {
				err = errMissingAccount
			}
		}
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"message": "token expired or invalid",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(
			context.WithValue(r.Context(), accountIDKey, accountID)))
	})
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	return s.tokens.verify(token, tokenTypeAccess)
}

func (s *Server) accountFromContext(r *http.Request) *account {
	accountID, _ := r.Context().Value(accountIDKey).(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[accountID]
}

func decodeBody(r *http.Request, into interface{}) error {
	return json.NewDecoder(r.Body).Decode(into)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "username and password required"})
		return
	}

	acct := s.findOrCreateByUsername(req.Username)
	pair, err := s.tokens.issuePair(acct.ID)
	if err != nil {
		s.log.WithError(err).Error("issuing tokens")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "token issuing failed"})
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "refresh_token required"})
		return
	}
	accountID, err := s.tokens.verify(req.RefreshToken, tokenTypeRefresh)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid refresh token"})
		return
	}
	pair, err := s.tokens.issuePair(accountID)
	if err != nil {
		s.log.WithError(err).Error("issuing tokens")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "token issuing failed"})
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleSendToUsername(w http.ResponseWriter, r *http.Request) {
	sender := s.accountFromContext(r)
	var req struct {
		Username string  `json:"username"`
		Amount   float64 `json:"amount"`
		Memo     string  `json:"memo"`
		Currency string  `json:"currency"`
	}
	if err := decodeBody(r, &req); err != nil || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid amount"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	recipient, ok := s.byUsername[req.Username]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "user not found"})
		return
	}
	if sender.Balance < req.Amount {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "insufficient balance"})
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	txID := uuid.NewString()
	sender.Balance -= req.Amount
	recipient.Balance += req.Amount
	sender.History = append([]ledgerEntry{{
		ID: txID, Type: "send", Amount: -req.Amount, Currency: req.Currency,
		Memo: req.Memo, CreatedAt: now,
	}}, sender.History...)
	recipient.History = append([]ledgerEntry{{
		ID: txID, Type: "receive", Amount: req.Amount, Currency: req.Currency,
		Memo: req.Memo, CreatedAt: now,
	}}, recipient.History...)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transaction_id": txID,
		"status":         "completed",
		"amount":         req.Amount,
		"currency":       req.Currency,
	})
}

func (s *Server) handleSettleToBank(w http.ResponseWriter, r *http.Request) {
	acct := s.accountFromContext(r)
	var req struct {
		BankCode      string  `json:"bank_code"`
		AccountNumber string  `json:"account_number"`
		AccountName   string  `json:"account_name"`
		Amount        float64 `json:"amount"`
		Currency      string  `json:"currency"`
	}
	if err := decodeBody(r, &req); err != nil || req.Amount <= 0 || req.BankCode == "" || req.AccountNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid settlement request"})
		return
	}
	if req.Amount > s.cfg.SettlementDailyLimit {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"code":    "SETTLEMENT_LIMIT_EXCEEDED",
			"message": "settlement amount exceeds daily limit",
		})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if acct.Balance < req.Amount {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "insufficient balance"})
		return
	}
	acct.Balance -= req.Amount
	tr := &transfer{
		ID:        uuid.NewString(),
		Kind:      "settlement",
		AccountID: acct.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    "pending",
	}
	s.transfers[tr.ID] = tr
	acct.History = append([]ledgerEntry{{
		ID: tr.ID, Type: "settlement", Amount: -req.Amount, Currency: req.Currency,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}}, acct.History...)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settlement_id": tr.ID,
		"status":        tr.Status,
		"amount":        req.Amount,
		"currency":      req.Currency,
	})
}

func (s *Server) handleSettlementStatus(w http.ResponseWriter, r *http.Request) {
	s.writeTransferStatus(w, r, "settlement")
}

func (s *Server) handleTopupStatus(w http.ResponseWriter, r *http.Request) {
	s.writeTransferStatus(w, r, "topup")
}

// writeTransferStatus advances the transfer one lifecycle step per poll, so
// repeated status queries observe pending, then processing, then completed.
func (s *Server) writeTransferStatus(w http.ResponseWriter, r *http.Request, kind string) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.transfers[id]
	if !ok || tr.Kind != kind {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": kind + " not found"})
		return
	}
	switch tr.Status {
	case "pending":
		tr.Status = "processing"
	case "processing":
		tr.Status = "completed"
		if tr.Kind == "topup" {
			if acct, ok := s.accounts[tr.AccountID]; ok {
				acct.Balance += tr.Amount
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":         tr.ID,
		"status":     tr.Status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTopupBank(w http.ResponseWriter, r *http.Request) {
	acct := s.accountFromContext(r)
	var req struct {
		BankCode      string  `json:"bank_code"`
		AccountNumber string  `json:"account_number"`
		Amount        float64 `json:"amount"`
		Currency      string  `json:"currency"`
	}
	if err := decodeBody(r, &req); err != nil || req.Amount <= 0 || req.BankCode == "" || req.AccountNumber == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid topup request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tr := &transfer{
		ID:        uuid.NewString(),
		Kind:      "topup",
		AccountID: acct.ID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Status:    "pending",
	}
	s.transfers[tr.ID] = tr

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settlement_id": tr.ID,
		"status":        tr.Status,
		"amount":        req.Amount,
		"currency":      req.Currency,
	})
}

func (s *Server) handleFygaroPaymentLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    float64 `json:"amount"`
		Currency  string  `json:"currency"`
		ReturnURL string  `json:"return_url"`
	}
	if err := decodeBody(r, &req); err != nil || req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid amount"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"payment_url": "https://pay.fygaro.test/checkout/" + uuid.NewString(),
	})
}

func (s *Server) handleSupportedBanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"banks": supportedBanks})
}

func (s *Server) handleValidateBankAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankCode      string `json:"bank_code"`
		AccountNumber string `json:"account_number"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request"})
		return
	}
	known := false
	for _, bank := range supportedBanks {
		if bank["code"] == req.BankCode {
			known = true
			break
		}
	}
	valid := known && len(req.AccountNumber) >= 6 && len(req.AccountNumber) <= 12
	resp := map[string]interface{}{"valid": valid}
	if valid {
		resp["account_name"] = "SANDBOX ACCOUNT"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct := s.accountFromContext(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":  acct.Balance,
		"currency": "USD",
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	acct := s.accountFromContext(r)
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	history := acct.History
	if offset >= len(history) {
		history = nil
	} else {
		history = history[offset:]
	}
	if len(history) > limit {
		history = history[:limit]
	}
	if history == nil {
		history = []ledgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": history})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *Server) findOrCreateByUsername(username string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.byUsername[username]; ok {
		return acct
	}
	acct := &account{
		ID:       uuid.NewString(),
		Username: username,
		Balance:  defaultStartingBalance,
	}
	s.accounts[acct.ID] = acct
	s.byUsername[username] = acct
	return acct
}

func (s *Server) findOrCreateByPhone(phone string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.byPhone[phone]; ok {
		return acct
	}
	suffix := phone
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	acct := &account{
		ID:       uuid.NewString(),
		Username: "user-" + suffix,
		Phone:    phone,
		Balance:  defaultStartingBalance,
	}
	s.accounts[acct.ID] = acct
	s.byPhone[phone] = acct
	s.byUsername[acct.Username] = acct
	return acct
}
