package api

import (
	"encoding/json"
	"errors"
	"net/http"

	errorsmod "cosmossdk.io/errors"
	"go.uber.org/zap"

	"github.com/recoverylabs/recoveryd/ledger"
	"github.com/recoverylabs/recoveryd/recovery/service"
	"github.com/recoverylabs/recoveryd/types"
)

// Handler exposes the protocol operations and read-only queries over JSON.
// It resolves account references, forwards to the manager, and maps protocol
// rejections to HTTP statuses; it adds no semantics of its own.
type Handler struct {
	mgr      *service.RecoveryManager
	bank     *ledger.BankLedger
	resolver types.AccountResolver
	logger   *zap.Logger
}

func NewHandler(mgr *service.RecoveryManager, bank *ledger.BankLedger, resolver types.AccountResolver, logger *zap.Logger) *Handler {
	return &Handler{
		mgr:      mgr,
		bank:     bank,
		resolver: resolver,
		logger:   logger,
	}
}

// RegisterRoutes wires all endpoints into mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/recovery/create", h.handleCreateRecovery)
	mux.HandleFunc("POST /v1/recovery/remove", h.handleRemoveRecovery)
	mux.HandleFunc("POST /v1/recovery/initiate", h.handleInitiateRecovery)
	mux.HandleFunc("POST /v1/recovery/vouch", h.handleVouchRecovery)
	mux.HandleFunc("POST /v1/recovery/claim", h.handleClaimRecovery)
	mux.HandleFunc("POST /v1/recovery/close", h.handleCloseRecovery)
	mux.HandleFunc("POST /v1/recovery/as-recovered", h.handleAsRecovered)
	mux.HandleFunc("POST /v1/recovery/cancel", h.handleCancelRecovered)
	mux.HandleFunc("POST /v1/recovery/set-recovered", h.handleSetRecovered)

	mux.HandleFunc("GET /v1/recovery/config/{account}", h.handleGetConfig)
	mux.HandleFunc("GET /v1/recovery/active/{account}/{rescuer}", h.handleGetActiveRecovery)
	mux.HandleFunc("GET /v1/recovery/proxy/{rescuer}", h.handleGetProxyLink)
	mux.HandleFunc("GET /v1/bank/balance/{account}", h.handleGetBalance)
	mux.HandleFunc("POST /v1/bank/deposit", h.handleDeposit)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (h *Handler) handleCreateRecovery(w http.ResponseWriter, r *http.Request) {
	var req CreateRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, ok := h.resolve(w, req.Caller)
	if !ok {
		return
	}

	friends := make([]types.AccountID, 0, len(req.Friends))
	for _, ref := range req.Friends {
		friend, ok := h.resolve(w, ref)
		if !ok {
			return
		}
		friends = append(friends, friend)
	}

	h.respond(w, h.mgr.CreateRecovery(caller, friends, req.Threshold, req.DelayPeriod))
}

func (h *Handler) handleRemoveRecovery(w http.ResponseWriter, r *http.Request) {
	var req RemoveRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, ok := h.resolve(w, req.Caller)
	if !ok {
		return
	}

	h.respond(w, h.mgr.RemoveRecovery(caller))
}

func (h *Handler) handleInitiateRecovery(w http.ResponseWriter, r *http.Request) {
	var req InitiateRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	rescuer, ok := h.resolve(w, req.Rescuer)
	if !ok {
		return
	}
	lost, ok := h.resolve(w, req.LostAccount)
	if !ok {
		return
	}

	h.respond(w, h.mgr.InitiateRecovery(rescuer, lost))
}

func (h *Handler) handleVouchRecovery(w http.ResponseWriter, r *http.Request) {
	var req VouchRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	voter, ok := h.resolve(w, req.Voter)
	if !ok {
		return
	}
	lost, ok := h.resolve(w, req.LostAccount)
	if !ok {
		return
	}
	rescuer, ok := h.resolve(w, req.Rescuer)
	if !ok {
		return
	}

	h.respond(w, h.mgr.VouchRecovery(voter, lost, rescuer))
}

func (h *Handler) handleClaimRecovery(w http.ResponseWriter, r *http.Request) {
	var req ClaimRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	rescuer, ok := h.resolve(w, req.Rescuer)
	if !ok {
		return
	}
	lost, ok := h.resolve(w, req.LostAccount)
	if !ok {
		return
	}

	h.respond(w, h.mgr.ClaimRecovery(rescuer, lost))
}

func (h *Handler) handleCloseRecovery(w http.ResponseWriter, r *http.Request) {
	var req CloseRecoveryRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, ok := h.resolve(w, req.Caller)
	if !ok {
		return
	}
	rescuer, ok := h.resolve(w, req.Rescuer)
	if !ok {
		return
	}

	h.respond(w, h.mgr.CloseRecovery(caller, rescuer))
}

func (h *Handler) handleAsRecovered(w http.ResponseWriter, r *http.Request) {
	var req AsRecoveredRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, ok := h.resolve(w, req.Caller)
	if !ok {
		return
	}
	lost, ok := h.resolve(w, req.LostAccount)
	if !ok {
		return
	}

	h.respond(w, h.mgr.AsRecovered(r.Context(), caller, lost, req.Operation))
}

func (h *Handler) handleCancelRecovered(w http.ResponseWriter, r *http.Request) {
	var req CancelRecoveredRequest
	if !h.decode(w, r, &req) {
		return
	}

	caller, ok := h.resolve(w, req.Caller)
	if !ok {
		return
	}
	lost, ok := h.resolve(w, req.LostAccount)
	if !ok {
		return
	}

	h.respond(w, h.mgr.CancelRecovered(caller, lost))
}

func (h *Handler) handleSetRecovered(w http.ResponseWriter, r *http.Request) {
	var req SetRecoveredRequest
	if !h.decode(w, r, &req) {
		return
	}

	authority, ok := h.resolve(w, req.Authority)
	if !ok {
		return
	}
	lost, ok := h.resolve(w, req.LostAccount)
	if !ok {
		return
	}
	rescuer, ok := h.resolve(w, req.Rescuer)
	if !ok {
		return
	}

	h.respond(w, h.mgr.SetRecovered(authority, lost, rescuer))
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolve(w, r.PathValue("account"))
	if !ok {
		return
	}

	cfg, err := h.mgr.GetConfig(account)
	if err != nil {
		h.writeError(w, err)

		return
	}

	friends := make([]string, len(cfg.Friends))
	for i, f := range cfg.Friends {
		friends[i] = f.MarshalHex()
	}

	h.writeJSON(w, http.StatusOK, ConfigResponse{
		Account:     account.MarshalHex(),
		Friends:     friends,
		Threshold:   cfg.Threshold,
		DelayPeriod: cfg.DelayPeriod,
		Deposit:     cfg.Deposit,
	})
}

func (h *Handler) handleGetActiveRecovery(w http.ResponseWriter, r *http.Request) {
	lost, ok := h.resolve(w, r.PathValue("account"))
	if !ok {
		return
	}
	rescuer, ok := h.resolve(w, r.PathValue("rescuer"))
	if !ok {
		return
	}

	rec, err := h.mgr.GetActiveRecovery(lost, rescuer)
	if err != nil {
		h.writeError(w, err)

		return
	}

	vouches := make([]string, len(rec.Vouches))
	for i, v := range rec.Vouches {
		vouches[i] = v.MarshalHex()
	}

	h.writeJSON(w, http.StatusOK, ActiveRecoveryResponse{
		LostAccount: lost.MarshalHex(),
		Rescuer:     rescuer.MarshalHex(),
		CreatedAt:   rec.CreatedAt,
		Deposit:     rec.Deposit,
		Vouches:     vouches,
	})
}

func (h *Handler) handleGetProxyLink(w http.ResponseWriter, r *http.Request) {
	rescuer, ok := h.resolve(w, r.PathValue("rescuer"))
	if !ok {
		return
	}

	lost, err := h.mgr.GetProxyLink(rescuer)
	if err != nil {
		h.writeError(w, err)

		return
	}

	holds, err := h.mgr.HoldCount(rescuer)
	if err != nil {
		h.writeError(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, ProxyLinkResponse{
		Rescuer:     rescuer.MarshalHex(),
		LostAccount: lost.MarshalHex(),
		Holds:       holds,
	})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := h.resolve(w, r.PathValue("account"))
	if !ok {
		return
	}

	free, err := h.bank.FreeBalance(account)
	if err != nil {
		h.writeError(w, err)

		return
	}
	reserved, err := h.bank.ReservedBalance(account)
	if err != nil {
		h.writeError(w, err)

		return
	}

	h.writeJSON(w, http.StatusOK, BalanceResponse{
		Account:  account.MarshalHex(),
		Free:     free,
		Reserved: reserved,
	})
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, ok := h.resolve(w, req.Account)
	if !ok {
		return
	}

	h.respond(w, h.bank.Deposit(account, req.Amount))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid JSON: " + err.Error()})

		return false
	}

	return true
}

func (h *Handler) resolve(w http.ResponseWriter, ref string) (types.AccountID, bool) {
	id, err := h.resolver.Resolve(ref)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})

		return types.AccountID{}, false
	}

	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Message: err.Error()}

	var protoErr *errorsmod.Error
	if errors.As(err, &protoErr) {
		resp.Codespace = protoErr.Codespace()
		resp.Code = protoErr.ABCICode()
		h.writeJSON(w, statusOf(protoErr), resp)

		return
	}

	h.logger.Error("internal error", zap.Error(err))
	h.writeJSON(w, http.StatusInternalServerError, resp)
}

func statusOf(err *errorsmod.Error) int {
	switch err {
	case service.ErrNotRecoverable, service.ErrNotStarted:
		return http.StatusNotFound
	case service.ErrNotAllowed, service.ErrUnauthorized:
		return http.StatusForbidden
	case service.ErrAlreadyRecoverable, service.ErrAlreadyStarted,
		service.ErrAlreadyVouched, service.ErrAlreadyProxy, service.ErrStillActive:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
