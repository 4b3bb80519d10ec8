// Package rest serves the auction read API: the filtered listing, the single
// auction fetch with its long-poll mode, and bid placement.
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/bidhaus/auction-server/internal/auctions"
	"github.com/bidhaus/auction-server/internal/auth"
	"github.com/bidhaus/auction-server/internal/bidding"
	"github.com/bidhaus/auction-server/internal/database"
	"github.com/bidhaus/auction-server/internal/longpoll"
	"github.com/bidhaus/auction-server/internal/query"
	"github.com/bidhaus/auction-server/pkg/errors"
	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
)

type Handler struct {
	engine   *auctions.Engine
	registry *longpoll.Registry
	placer   *bidding.Placer
	db       database.Service

	defaultPageSize int
	maxPageSize     int
}

func NewHandler(engine *auctions.Engine, registry *longpoll.Registry, placer *bidding.Placer, db database.Service, defaultPageSize, maxPageSize int) *Handler {
	return &Handler{
		engine:          engine,
		registry:        registry,
		placer:          placer,
		db:              db,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// Register wires the routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /auctions", h.ListAuctions)
	mux.HandleFunc("GET /auctions/{id}", h.GetAuction)
	mux.HandleFunc("POST /auctions/{id}/bids", h.PlaceBid)
	mux.HandleFunc("GET /health", h.Health)
}

func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	req := auctions.ListRequest{
		Filters: query.ParseFilters(values),
		Sort:    query.ParseSort(values),
		Page:    query.ParsePage(values, h.defaultPageSize, h.maxPageSize),
		Viewer:  optParam(values.Get("includeBidStatusFor")),
	}

	page, err := h.engine.List(r.Context(), req, callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	auctionID := r.PathValue("id")
	viewer := optParam(r.URL.Query().Get("includeBidStatusFor"))
	caller := callerID(r)

	auction, err := h.engine.Get(r.Context(), auctionID, viewer, caller)
	if err != nil {
		writeError(w, err)
		return
	}

	lastSeen := r.URL.Query().Get("longPollMaxBidId")
	if lastSeen == "" || lastSeen != auction.TopBidIdentity() {
		// Not a long poll, or the caller is already behind: answer now.
		writeJSON(w, http.StatusOK, auction)
		return
	}

	waiter := h.registry.Register(auctionID)

	// A bid may have been committed between the read above and registration;
	// its NotifyChanged would not have reached this waiter. Re-check before
	// suspending.
	auction, err = h.engine.Get(r.Context(), auctionID, viewer, caller)
	if err != nil {
		waiter.Cancel()
		writeError(w, err)
		return
	}
	if lastSeen != auction.TopBidIdentity() {
		waiter.Cancel()
		writeJSON(w, http.StatusOK, auction)
		return
	}

	select {
	case reason := <-waiter.C:
		// Fresh snapshot either way; a timeout just returns the unchanged
		// state so the client can re-arm.
		auction, err = h.engine.Get(r.Context(), auctionID, viewer, caller)
		if err != nil {
			writeError(w, err)
			return
		}
		log.Debug("long poll completed", "auctionId", auctionID, "reason", reason)
		writeJSON(w, http.StatusOK, auction)
	case <-r.Context().Done():
		// Caller went away; just drop the pending entry.
		waiter.Cancel()
	}
}

func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)
	if caller == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return
	}

	var input struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, errors.InvalidInput("invalid bid payload"))
		return
	}

	bid, err := h.placer.Place(r.Context(), r.PathValue("id"), *caller, input.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.db.Health())
}

func callerID(r *http.Request) *string {
	id, err := auth.AccountID(r)
	if err != nil {
		return nil
	}
	return &id
}

func optParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error("Error encoding response: ", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	}

	appErr, ok := err.(*errors.AppError)
	if !ok {
		appErr = errors.New(status, "internal server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(appErr.ToJSON()))
}
