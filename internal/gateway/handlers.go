package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crosslogic/credit-plane/internal/credits"
	"github.com/crosslogic/credit-plane/pkg/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// handleReserve opens a reservation against the workspace balance.
func (g *Gateway) handleReserve(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspace_id")

	var req models.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := g.engine.ReserveCredits(r.Context(), workspaceID, req.EstimatedCostNano, req.Byok)
	if err != nil {
		g.writeEngineError(w, "reserve", workspaceID, err)
		return
	}

	g.writeJSON(w, http.StatusOK, models.ReserveResponse{
		ReservationID:      res.ReservationID,
		ReservedAmountNano: res.ReservedAmount,
		BalanceNano:        res.Balance,
	})
}

// handleAdjust reconciles a reservation against measured token usage.
func (g *Gateway) handleAdjust(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservation_id")

	var req models.AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorkspaceID == "" {
		g.writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	balance, err := g.engine.AdjustReservation(r.Context(), credits.AdjustParams{
		ReservationID:  reservationID,
		WorkspaceID:    req.WorkspaceID,
		Provider:       req.Provider,
		Model:          req.Model,
		Usage:          req.Usage,
		Byok:           req.Byok,
		GenerationID:   req.GenerationID,
		ConversationID: req.ConversationID,
		AgentID:        req.AgentID,
	})
	if err != nil {
		g.writeEngineError(w, "adjust", req.WorkspaceID, err)
		return
	}

	g.writeJSON(w, http.StatusOK, models.BalanceResponse{
		WorkspaceID: req.WorkspaceID,
		BalanceNano: balance,
	})
}

// handleFinalize settles a reservation against the authoritative cost.
func (g *Gateway) handleFinalize(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservation_id")

	var req models.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	balance, err := g.engine.FinalizeReservation(r.Context(), reservationID, req.VerifiedCostNano)
	if err != nil {
		g.writeEngineError(w, "finalize", "", err)
		return
	}

	g.writeJSON(w, http.StatusOK, models.BalanceResponse{BalanceNano: balance})
}

// handleRefund returns the full reserved amount and closes the reservation.
func (g *Gateway) handleRefund(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservation_id")

	if err := g.engine.RefundReservation(r.Context(), reservationID); err != nil {
		g.writeEngineError(w, "refund", "", err)
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

// handleDebit deducts a flat amount outside the reservation pipeline.
func (g *Gateway) handleDebit(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspace_id")

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	balance, err := g.engine.DebitCredits(r.Context(), workspaceID, req.AmountNano, req.Byok)
	if err != nil {
		g.writeEngineError(w, "debit", workspaceID, err)
		return
	}

	g.writeJSON(w, http.StatusOK, models.BalanceResponse{
		WorkspaceID: workspaceID,
		BalanceNano: balance,
	})
}

// handleCredit tops up the workspace balance.
func (g *Gateway) handleCredit(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspace_id")

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	balance, err := g.engine.CreditCredits(r.Context(), workspaceID, req.AmountNano)
	if err != nil {
		g.writeEngineError(w, "credit", workspaceID, err)
		return
	}

	g.writeJSON(w, http.StatusOK, models.BalanceResponse{
		WorkspaceID: workspaceID,
		BalanceNano: balance,
	})
}

// handleGetBalance reads the balance without mutating it.
func (g *Gateway) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspace_id")

	bal, err := g.engine.GetBalance(r.Context(), workspaceID)
	if err != nil {
		g.writeEngineError(w, "balance", workspaceID, err)
		return
	}

	g.writeJSON(w, http.StatusOK, models.BalanceResponse{
		WorkspaceID: bal.WorkspaceID,
		BalanceNano: bal.CreditBalance,
		Currency:    bal.Currency,
	})
}

// writeEngineError maps engine errors to HTTP statuses.
func (g *Gateway) writeEngineError(w http.ResponseWriter, operation, workspaceID string, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		g.writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, credits.ErrWorkspaceNotFound):
		g.writeError(w, http.StatusNotFound, "workspace not found")
	case errors.Is(err, credits.ErrUpdateConflict):
		// Transient contention; the whole operation is safe to retry.
		g.writeError(w, http.StatusServiceUnavailable, "balance contended, retry")
	default:
		g.logger.Error("credit operation failed",
			zap.String("operation", operation),
			zap.String("workspace_id", workspaceID),
			zap.Error(err),
		)
		g.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
