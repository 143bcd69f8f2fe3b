package http

import (
	"errors"
	"net/http"
	"strings"

	"smartBin/internal/domain/service"
)

// ledgerStatus maps ledger errors to HTTP status codes.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownUser), errors.Is(err, service.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientCredits),
		errors.Is(err, service.ErrInvalidCost),
		errors.Is(err, service.ErrInvalidUserID),
		errors.Is(err, service.ErrInvalidItem):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if id == "" {
		s.fail(w, http.StatusBadRequest, UserHeader+" header is required")
		return "", false
	}
	return id, true
}

// ledgerResult records the operation outcome and writes the error response when err is set.
func (s *Server) ledgerResult(w http.ResponseWriter, op string, err error) bool {
	if err == nil {
		s.deps.Metrics.LedgerOperation(op, "ok")
		return true
	}
	status := ledgerStatus(err)
	result := "rejected"
	if status == http.StatusInternalServerError {
		result = "error"
		s.log.Error("ledger operation failed", "op", op, "error", err)
	}
	s.deps.Metrics.LedgerOperation(op, result)
	s.fail(w, status, err.Error())
	return false
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}
	account, err := s.deps.Ledger.OpenAccount(r.Context(), user)
	if !s.ledgerResult(w, "open_account", err) {
		return
	}
	s.ok(w, account)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}
	account, err := s.deps.Ledger.GetAccount(user)
	if !s.ledgerResult(w, "balance", err) {
		return
	}
	s.ok(w, account)
}

func (s *Server) handleSubmitBottle(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Ledger.SubmitBottle(r.Context(), user)
	if !s.ledgerResult(w, "submit_bottle", err) {
		return
	}
	s.ok(w, result)
}

type redeemRequest struct {
	ItemID string `json:"item_id"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		s.ledgerResult(w, "redeem_item", service.ErrInvalidItem)
		return
	}
	item, err := s.deps.Catalog.Item(itemID)
	if !s.ledgerResult(w, "redeem_item", err) {
		return
	}
	result, err := s.deps.Ledger.RedeemItem(r.Context(), user, item.ID, item.Cost)
	if !s.ledgerResult(w, "redeem_item", err) {
		return
	}
	s.ok(w, result)
}

func (s *Server) handleBottleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}
	history, err := s.deps.Ledger.GetBottleHistory(user)
	if !s.ledgerResult(w, "bottle_history", err) {
		return
	}
	s.ok(w, history)
}

func (s *Server) handleRedemptionHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.userID(w, r)
	if !ok {
		return
	}
	history, err := s.deps.Ledger.GetRedemptionHistory(user)
	if !s.ledgerResult(w, "redemption_history", err) {
		return
	}
	s.ok(w, history)
}
