package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"crossswap/apps/crossswap/internal/allocation"
	"crossswap/apps/crossswap/internal/auction"
	"crossswap/apps/crossswap/internal/commitment"
	"crossswap/apps/crossswap/internal/escrow"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/ledger"
	"crossswap/apps/crossswap/internal/model"
	"crossswap/apps/crossswap/internal/relayer"
	"crossswap/apps/crossswap/internal/rescue"
	"crossswap/apps/crossswap/internal/treasury"
	"go.uber.org/zap"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// domainErrors maps package sentinels to HTTP status and stable codes.
// The first match wins.
var domainErrors = []errorMapping{
	{ledger.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{escrow.ErrEscrowNotFound, http.StatusNotFound, "escrow_not_found"},

	{relayer.ErrUnauthorizedResolver, http.StatusForbidden, "unauthorized_resolver"},
	{relayer.ErrNotParticipant, http.StatusForbidden, "not_participant"},
	{ledger.ErrNotMaker, http.StatusForbidden, "not_maker"},
	{escrow.ErrTakerNotAllowed, http.StatusForbidden, "taker_not_allowed"},
	{escrow.ErrUnauthorizedCancel, http.StatusForbidden, "unauthorized_cancel"},

	{ledger.ErrOrderExpired, http.StatusGone, "order_expired"},

	{escrow.ErrInvalidSecret, http.StatusBadRequest, "invalid_secret"},
	{hashlock.ErrInvalidSecretLength, http.StatusBadRequest, "invalid_secret"},
	{ledger.ErrInvalidOrder, http.StatusBadRequest, "invalid_order"},
	{ledger.ErrDeadlineInPast, http.StatusBadRequest, "deadline_in_past"},
	{ledger.ErrInvalidFillSize, http.StatusBadRequest, "invalid_fill_size"},
	{auction.ErrInvalidAuctionParams, http.StatusBadRequest, "invalid_auction_params"},
	{model.ErrInvalidTimelocks, http.StatusBadRequest, "invalid_timelocks"},
	{allocation.ErrAllocationMismatch, http.StatusBadRequest, "allocation_mismatch"},
	{allocation.ErrEmptyCommitment, http.StatusBadRequest, "empty_commitment"},
	{escrow.ErrInvalidSide, http.StatusBadRequest, "invalid_side"},
	{treasury.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},

	{ledger.ErrOrderExists, http.StatusConflict, "order_exists"},
	{ledger.ErrOrderTerminal, http.StatusConflict, "order_terminal"},
	{ledger.ErrStaleNonce, http.StatusConflict, "stale_nonce"},
	{ledger.ErrOverfill, http.StatusConflict, "overfill"},
	{commitment.ErrAlreadyCommitted, http.StatusConflict, "already_committed"},
	{commitment.ErrCommitmentReplaced, http.StatusConflict, "commitment_replaced"},
	{commitment.ErrNoActiveCommitment, http.StatusConflict, "no_active_commitment"},
	{rescue.ErrSelfRescueForbidden, http.StatusConflict, "self_rescue_forbidden"},
	{rescue.ErrNotRescuable, http.StatusConflict, "not_rescuable"},
	{relayer.ErrOrderNotAvailable, http.StatusConflict, "order_not_available"},
	{relayer.ErrNotReady, http.StatusConflict, "not_ready"},
	{relayer.ErrSwapFinal, http.StatusConflict, "swap_final"},
	{escrow.ErrNotCommitted, http.StatusConflict, "not_committed"},
	{escrow.ErrDuplicateAllocation, http.StatusConflict, "duplicate_allocation"},
	{escrow.ErrNoSourceAllocation, http.StatusConflict, "no_source_allocation"},
	{escrow.ErrUnderfunded, http.StatusConflict, "underfunded"},
	{escrow.ErrNotActive, http.StatusConflict, "escrow_not_active"},
	{escrow.ErrTimelockNotElapsed, http.StatusConflict, "timelock_not_elapsed"},
	{escrow.ErrMakerNotFunded, http.StatusConflict, "maker_not_funded"},
	{escrow.ErrIncompleteAllocation, http.StatusConflict, "incomplete_allocation"},
	{treasury.ErrInsufficientBond, http.StatusConflict, "insufficient_bond"},
}

func classify(err error) (int, string) {
	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// responder writes the JSON envelopes shared by every handler.
type responder struct {
	logger *zap.Logger
}

// writeJSONResponse writes a JSON response with the specified status code
func (h responder) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h responder) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// writeDomainError maps a component error onto the error envelope.
func (h responder) writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}
	h.writeErrorResponse(w, status, code, err.Error())
}

func (h responder) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return false
	}
	return true
}
