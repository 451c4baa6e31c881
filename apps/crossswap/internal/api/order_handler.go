package api

import (
	"context"
	"errors"
	"net/http"

	"crossswap/apps/crossswap/internal/assets"
	"crossswap/apps/crossswap/internal/chain"
	"crossswap/apps/crossswap/internal/events"
	"crossswap/apps/crossswap/internal/hashlock"
	"crossswap/apps/crossswap/internal/ledger"
	"crossswap/apps/crossswap/internal/model"
	"crossswap/apps/crossswap/internal/relayer"
	"crossswap/apps/crossswap/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// OrderArchive serves orders the running relayer no longer holds.
type OrderArchive interface {
	GetOrder(ctx context.Context, hash common.Hash) (*model.Order, model.SwapState, error)
}

type HistoryReader interface {
	History(ctx context.Context, orderHash string) ([]repository.HistoryEntry, error)
}

// OrderHandler serves the maker-facing and settlement endpoints.
type OrderHandler struct {
	responder
	relayer *relayer.Relayer
	calls   *chain.CallBuilder
	assets  *assets.AssetRegistry
	archive OrderArchive
	history HistoryReader
}

func NewOrderHandler(r *relayer.Relayer, calls *chain.CallBuilder, registry *assets.AssetRegistry, archive OrderArchive, history HistoryReader, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		responder: responder{logger: logger},
		relayer:   r,
		calls:     calls,
		assets:    registry,
		archive:   archive,
		history:   history,
	}
}

// orderHash reads the {hash} route variable.
func (h *OrderHandler) orderHash(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	return parseOrderHash(h.responder, w, r)
}

func parseOrderHash(h responder, w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_order_hash", "Order hash must be 0x-prefixed 32 bytes")
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func (h responder) parseSecret(w http.ResponseWriter, raw string) (hashlock.Secret, bool) {
	secret, err := hashlock.ParseSecret(raw)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_secret", "Secret must be 32 hex-encoded bytes")
		return hashlock.Secret{}, false
	}
	return secret, true
}

// parseAmount parses an optional decimal integer.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return uint256.FromDecimal(s)
}

// CreateOrder handles POST /api/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Maker == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_maker", "Maker is required")
		return
	}
	if req.MakerAsset == "" || req.TakerAsset == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "missing_asset", "Maker and taker assets are required")
		return
	}

	params := ledger.OrderParams{
		Maker:            req.Maker,
		Receiver:         req.Receiver,
		AllowedTaker:     req.AllowedTaker,
		MakerAsset:       req.MakerAsset,
		TakerAsset:       req.TakerAsset,
		AuctionStartTime: req.AuctionStartTime,
		AuctionEndTime:   req.AuctionEndTime,
		Deadline:         req.Deadline,
		SrcChainID:       req.SrcChainID,
		DstChainID:       req.DstChainID,
	}
	if req.Timelocks != nil {
		params.Timelocks = *req.Timelocks
	}

	for _, f := range []struct {
		raw  string
		dst  **uint256.Int
		name string
	}{
		{req.MakingAmount, &params.MakingAmount, "making_amount"},
		{req.TakingAmount, &params.TakingAmount, "taking_amount"},
		{req.AuctionStartPrice, &params.AuctionStartPrice, "auction_start_price"},
		{req.AuctionEndPrice, &params.AuctionEndPrice, "auction_end_price"},
	} {
		v, err := parseAmount(f.raw)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_"+f.name, "Amounts must be decimal integers")
			return
		}
		*f.dst = v
	}

	if req.Hashlock != "" {
		b, err := hexutil.Decode(req.Hashlock)
		if err != nil || len(b) != common.HashLength {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_hashlock", "Hashlock must be 0x-prefixed 32 bytes")
			return
		}
		params.Hashlock = common.BytesToHash(b)
	}

	order, err := h.relayer.CreateOrder(params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	view, err := h.relayer.OrderView(order.OrderHash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("Created order",
		zap.String("order_hash", order.OrderHash.Hex()),
		zap.String("maker", order.Maker),
		zap.String("making_amount", h.assets.FormatAmount(order.MakerAsset, order.MakingAmount)))

	h.writeJSONResponse(w, http.StatusCreated, view)
}

// GetOrder handles GET /api/orders/{hash}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}

	view, err := h.relayer.OrderView(hash)
	if err == nil {
		h.writeJSONResponse(w, http.StatusOK, view)
		return
	}
	if !errors.Is(err, ledger.ErrOrderNotFound) || h.archive == nil {
		h.writeDomainError(w, err)
		return
	}

	order, state, err := h.archive.GetOrder(r.Context(), hash)
	if err != nil {
		h.logger.Error("Failed to get order", zap.String("order_hash", hash.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve order")
		return
	}
	if order == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}

	archived := events.NewOrderView(*order)
	archived.SwapState = string(state)
	h.writeJSONResponse(w, http.StatusOK, archived)
}

// CancelOrder handles POST /api/orders/{hash}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}
	var req MakerRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.relayer.CancelOrder(hash, req.Maker); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]string{"status": string(model.OrderStatusCancelled)})
}

// RevealSecret handles POST /api/orders/{hash}/secret
func (h *OrderHandler) RevealSecret(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}
	var req SecretRequest
	if !h.decode(w, r, &req) {
		return
	}
	secret, ok := h.parseSecret(w, req.Secret)
	if !ok {
		return
	}

	if err := h.relayer.RevealSecret(hash, secret); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Withdraw handles POST /api/orders/{hash}/withdraw
func (h *OrderHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	secret, ok := h.parseSecret(w, req.Secret)
	if !ok {
		return
	}

	payouts, err := h.relayer.Withdraw(hash, model.EscrowSide(req.Side), secret, req.Caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.payoutResponses(payouts))
}

// CancelEscrow handles POST /api/orders/{hash}/escrows/cancel
func (h *OrderHandler) CancelEscrow(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}
	var req CancelEscrowRequest
	if !h.decode(w, r, &req) {
		return
	}

	payouts, err := h.relayer.CancelEscrow(hash, model.EscrowSide(req.Side), req.Caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.payoutResponses(payouts))
}

// GetEscrows handles GET /api/orders/{hash}/escrows
func (h *OrderHandler) GetEscrows(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}

	records := h.relayer.Escrows(hash)
	response := make([]EscrowResponse, 0, len(records))
	for _, rec := range records {
		response = append(response, h.escrowResponse(rec))
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// GetPayouts handles GET /api/orders/{hash}/payouts
func (h *OrderHandler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.payoutResponses(h.relayer.Payouts(hash)))
}

// GetWithdrawTx handles GET /api/orders/{hash}/withdraw-tx?side=&from=
// The secret must already be public.
func (h *OrderHandler) GetWithdrawTx(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}
	side := model.EscrowSide(r.URL.Query().Get("side"))
	if !side.Valid() {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_side", "side must be source or destination")
		return
	}

	order, err := h.relayer.Order(hash)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var record *model.EscrowRecord
	var secret string
	for _, rec := range h.relayer.Escrows(hash) {
		if rec.Side == side {
			rec := rec
			record = &rec
		}
		if rec.RevealedSecret != "" {
			secret = rec.RevealedSecret
		}
	}
	if record == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "escrow_not_found", "Escrow not deployed")
		return
	}
	if secret == "" {
		h.writeErrorResponse(w, http.StatusConflict, "secret_not_revealed", "Secret has not been revealed")
		return
	}
	parsed, err := hashlock.ParseSecret(secret)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	escrowAddress := ""
	for _, a := range record.Allocations {
		if a.EscrowAddress != "" {
			escrowAddress = a.EscrowAddress
			break
		}
	}
	chainID := order.SrcChainID
	if side == model.SideDestination {
		chainID = order.DstChainID
	}

	call, err := h.calls.BuildWithdraw(r.Context(), escrowAddress, r.URL.Query().Get("from"), chainID, hash, parsed)
	if err != nil {
		if errors.Is(err, chain.ErrInvalidEscrowAddress) {
			h.writeErrorResponse(w, http.StatusConflict, "no_escrow_address", "Escrow has no on-chain address")
			return
		}
		h.logger.Error("Failed to build withdraw transaction", zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "transaction_build_error", "Failed to build transaction")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, call)
}

// GetHistory handles GET /api/orders/{hash}/history
func (h *OrderHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.orderHash(w, r)
	if !ok {
		return
	}
	if h.history == nil {
		h.writeErrorResponse(w, http.StatusNotImplemented, "history_disabled", "History requires a database")
		return
	}

	entries, err := h.history.History(r.Context(), hash.Hex())
	if err != nil {
		h.logger.Error("Failed to get history", zap.String("order_hash", hash.Hex()), zap.Error(err))
		h.writeErrorResponse(w, http.StatusInternalServerError, "database_error", "Failed to retrieve history")
		return
	}
	if entries == nil {
		entries = []repository.HistoryEntry{}
	}
	h.writeJSONResponse(w, http.StatusOK, entries)
}

func (h *OrderHandler) escrowResponse(rec model.EscrowRecord) EscrowResponse {
	allocations := make([]AllocationResponse, 0, len(rec.Allocations))
	for _, a := range rec.Allocations {
		allocations = append(allocations, AllocationResponse{
			Resolver:      a.Resolver,
			PartialAmount: decString(a.PartialAmount),
			SafetyDeposit: decString(a.SafetyDeposit),
			EscrowAddress: a.EscrowAddress,
		})
	}
	return EscrowResponse{
		OrderHash:      rec.OrderHash.Hex(),
		Side:           string(rec.Side),
		Hashlock:       rec.Hashlock.Hex(),
		Condition:      hexutil.Encode(hashlock.Condition(rec.Hashlock)),
		Maker:          rec.Maker,
		Recipient:      rec.Recipient,
		Token:          rec.Token,
		TotalAmount:    decString(rec.TotalAmount),
		DisplayAmount:  h.assets.FormatAmount(rec.Token, rec.TotalAmount),
		SafetyDeposit:  decString(rec.SafetyDeposit),
		Timelocks:      rec.Timelocks,
		DeployedAt:     rec.DeployedAt,
		State:          string(rec.State),
		MakerFunded:    rec.MakerFunded,
		RevealedSecret: rec.RevealedSecret,
		Allocations:    allocations,
	}
}

func (h *OrderHandler) payoutResponses(payouts []model.Payout) []PayoutResponse {
	response := make([]PayoutResponse, 0, len(payouts))
	for _, p := range payouts {
		response = append(response, PayoutResponse{
			Side:          string(p.Side),
			Recipient:     p.Recipient,
			Token:         p.Token,
			Amount:        decString(p.Amount),
			DisplayAmount: h.assets.FormatAmount(p.Token, p.Amount),
			Kind:          string(p.Kind),
			CreatedAt:     p.CreatedAt,
		})
	}
	return response
}
