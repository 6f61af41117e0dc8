package http

import (
	"net/http"
	"time"
)

type balanceResponse struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// GetBalance returns the ledger balance of one account.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	tok, account := urlParam(r, "token"), urlParam(r, "account")
	amount, err := h.Token.Balance(r.Context(), tok, account)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Token: tok, Account: account, Amount: amount})
}

// GetAllowance returns the spendable allowance owner has granted spender.
func (h *Handlers) GetAllowance(w http.ResponseWriter, r *http.Request) {
	amount, err := h.Token.Allowance(r.Context(), urlParam(r, "token"), urlParam(r, "owner"), urlParam(r, "spender"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

// GetPermitNonce returns the owner's next permit nonce.
func (h *Handlers) GetPermitNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := h.Token.Nonce(r.Context(), urlParam(r, "token"), urlParam(r, "owner"))
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"nonce": nonce})
}

// TransferToken moves tokens from the caller to another account.
func (h *Handlers) TransferToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Token  string `json:"token"`
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Token, "token") || !requireField(w, body.To, "to") {
		return
	}
	if err := h.Token.Transfer(r.Context(), caller, body.Token, body.To, body.Amount); err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// ApproveToken grants a spender an allowance over the caller's balance.
func (h *Handlers) ApproveToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Token   string `json:"token"`
		Spender string `json:"spender"`
		Amount  int64  `json:"amount"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Token, "token") || !requireField(w, body.Spender, "spender") {
		return
	}
	if err := h.Token.Approve(r.Context(), caller, body.Token, body.Spender, body.Amount); err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// TransferFromToken spends an allowance granted to the caller.
func (h *Handlers) TransferFromToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Token  string `json:"token"`
		Owner  string `json:"owner"`
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Token, "token") || !requireField(w, body.Owner, "owner") || !requireField(w, body.To, "to") {
		return
	}
	if err := h.Token.TransferFrom(r.Context(), caller, body.Token, body.Owner, body.To, body.Amount); err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

// PermitToken applies a signed off-channel allowance grant.
func (h *Handlers) PermitToken(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Token     string    `json:"token"`
		Owner     string    `json:"owner"`
		Spender   string    `json:"spender"`
		Amount    int64     `json:"amount"`
		Nonce     uint64    `json:"nonce"`
		Deadline  time.Time `json:"deadline"`
		Signature string    `json:"signature"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Token, "token") || !requireField(w, body.Owner, "owner") ||
		!requireField(w, body.Spender, "spender") || !requireField(w, body.Signature, "signature") {
		return
	}
	err := h.Token.Permit(r.Context(), body.Token, body.Owner, body.Spender, body.Amount, body.Nonce, body.Deadline, body.Signature)
	if err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// MintToken credits new tokens to an account. Owner only.
func (h *Handlers) MintToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	body, ok := readJSON[struct {
		Token  string `json:"token"`
		To     string `json:"to"`
		Amount int64  `json:"amount"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Token, "token") || !requireField(w, body.To, "to") {
		return
	}
	if err := h.Token.Mint(r.Context(), caller, body.Token, body.To, body.Amount); err != nil {
		writeDomainError(w, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}
