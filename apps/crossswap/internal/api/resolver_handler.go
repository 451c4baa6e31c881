package api

import (
	"net/http"

	"crossswap/apps/crossswap/internal/escrow"
	"crossswap/apps/crossswap/internal/model"
	"crossswap/apps/crossswap/internal/relayer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// ResolverHandler serves registration and every resolver action on an order.
type ResolverHandler struct {
	responder
	relayer *relayer.Relayer
}

func NewResolverHandler(r *relayer.Relayer, logger *zap.Logger) *ResolverHandler {
	return &ResolverHandler{responder: responder{logger: logger}, relayer: r}
}

// RegisterResolver handles POST /api/resolvers
func (h *ResolverHandler) RegisterResolver(w http.ResponseWriter, r *http.Request) {
	var req RegisterResolverRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Address == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_address", "Resolver address is required")
		return
	}
	bond, err := parseAmount(req.Bond)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_bond", "Bond must be a decimal integer")
		return
	}

	account, err := h.relayer.RegisterResolver(r.Context(), req.Address, req.Name, bond)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	resolver, _, err := h.relayer.Resolver(req.Address)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, newResolverResponse(resolver, account))
}

// GetResolver handles GET /api/resolvers/{address}
func (h *ResolverHandler) GetResolver(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	resolver, account, err := h.relayer.Resolver(address)
	if err != nil {
		h.writeErrorResponse(w, http.StatusNotFound, "resolver_not_found", "Resolver not registered")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, newResolverResponse(resolver, account))
}

// Commit handles POST /api/orders/{hash}/commit
func (h *ResolverHandler) Commit(w http.ResponseWriter, r *http.Request) {
	h.commitOrRescue(w, r, h.relayer.Commit)
}

// Rescue handles POST /api/orders/{hash}/rescue
func (h *ResolverHandler) Rescue(w http.ResponseWriter, r *http.Request) {
	h.commitOrRescue(w, r, h.relayer.Rescue)
}

// commitOrRescue answers with a boolean. A refusal is a normal outcome for
// a competing resolver, so it is reported in the body with status 200.
func (h *ResolverHandler) commitOrRescue(w http.ResponseWriter, r *http.Request, action func(string, common.Hash, string, string) (bool, error)) {
	hash, ok := parseOrderHash(h.responder, w, r)
	if !ok {
		return
	}
	var req CommitRequest
	if !h.decode(w, r, &req) {
		return
	}

	accepted, err := action(req.Resolver, hash, req.SourceEscrow, req.DestEscrow)
	response := CommitResponse{Accepted: accepted}
	if err != nil {
		status, code := classify(err)
		if status == http.StatusNotFound || status == http.StatusInternalServerError {
			h.writeDomainError(w, err)
			return
		}
		response.Error = code
		response.Message = err.Error()
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// DeployEscrow handles POST /api/orders/{hash}/escrows
func (h *ResolverHandler) DeployEscrow(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseOrderHash(h.responder, w, r)
	if !ok {
		return
	}
	var req DeployEscrowRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_amount", "Amount must be a decimal integer")
		return
	}

	record, err := h.relayer.DeployEscrow(escrow.DeployRequest{
		OrderHash:     hash,
		Side:          model.EscrowSide(req.Side),
		Resolver:      req.Resolver,
		PartialAmount: amount,
		EscrowAddress: req.EscrowAddress,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	allocation, _ := record.Allocation(req.Resolver)
	h.writeJSONResponse(w, http.StatusCreated, AllocationResponse{
		Resolver:      allocation.Resolver,
		PartialAmount: decString(allocation.PartialAmount),
		SafetyDeposit: decString(allocation.SafetyDeposit),
		EscrowAddress: allocation.EscrowAddress,
	})
}

// GetOwed handles GET /api/orders/{hash}/owed?resolver=
func (h *ResolverHandler) GetOwed(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseOrderHash(h.responder, w, r)
	if !ok {
		return
	}
	resolver := r.URL.Query().Get("resolver")

	owed, ok := h.relayer.Owed(hash, resolver)
	if !ok {
		h.writeErrorResponse(w, http.StatusNotFound, "no_source_allocation", "Resolver has no source allocation")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, OwedResponse{Resolver: resolver, Amount: owed.Dec()})
}

// EscrowsReady handles POST /api/orders/{hash}/escrows/ready
func (h *ResolverHandler) EscrowsReady(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseOrderHash(h.responder, w, r)
	if !ok {
		return
	}
	var req EscrowsReadyRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.relayer.EscrowsReady(hash, req.Resolver, req.SourceEscrow, req.DestEscrow); err != nil {
		h.writeDomainError(w, err)
		return
	}
	state, _ := h.relayer.State(hash)
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"swap_state": string(state)})
}

// Complete handles POST /api/orders/{hash}/complete
func (h *ResolverHandler) Complete(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseOrderHash(h.responder, w, r)
	if !ok {
		return
	}
	var req CompleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	secret, ok := h.parseSecret(w, req.Secret)
	if !ok {
		return
	}

	if err := h.relayer.Complete(hash, req.Resolver, secret); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"swap_state": string(model.SwapCompleted)})
}
