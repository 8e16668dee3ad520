package sourcing

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sourcelane/sourcelane/internal/platform/httpx"
	"github.com/sourcelane/sourcelane/internal/shared"
)

// Handler exposes RFQ candidate, award, and purchase order endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers sourcing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rfqs/{id}/candidates", h.listCandidates)
	r.Post("/rfqs/{id}/awards", h.award)
	r.Post("/quotes/{id}/withdraw", h.withdrawQuote)
	r.Get("/purchase-orders/{id}", h.getPO)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) listCandidates(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid rfq id")
		return
	}
	candidates, err := h.engine.BuildCandidates(r.Context(), actor.CompanyID, id)
	if err != nil {
		h.logger.Error("build award candidates", slog.Int64("rfq_id", id), slog.Any("error", err))
		respondError(w, err)
		return
	}
	type line struct {
		RFQItemID  int64       `json:"rfq_item_id"`
		Candidates []Candidate `json:"candidates"`
		Best       *Candidate  `json:"best,omitempty"`
	}
	out := make([]line, 0, len(candidates))
	for itemID, list := range candidates {
		out = append(out, line{RFQItemID: itemID, Candidates: list, Best: BestCandidate(list)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RFQItemID < out[j].RFQItemID })
	httpx.JSON(w, http.StatusOK, map[string]any{"lines": out})
}

func (h *Handler) award(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid rfq id")
		return
	}
	var req AwardRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := ExecuteInput{
		CompanyID:   actor.CompanyID,
		RFQID:       id,
		ActorID:     actor.UserID,
		GeneratePOs: req.GeneratePOs,
	}
	for _, e := range req.Entries {
		input.Entries = append(input.Entries, AwardEntry{
			RFQItemID:   e.RFQItemID,
			QuoteItemID: e.QuoteItemID,
			AwardedQty:  e.AwardedQty,
		})
	}
	result, err := h.engine.Execute(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	awards := make([]AwardResponse, 0, len(result.Awards))
	for _, a := range result.Awards {
		awards = append(awards, toAwardResponse(a))
	}
	pos := make([]POResponse, 0, len(result.PurchaseOrders))
	for _, po := range result.PurchaseOrders {
		pos = append(pos, toPOResponse(po))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"awards":          awards,
		"purchase_orders": pos,
	})
}

func (h *Handler) withdrawQuote(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quote id")
		return
	}
	if err := h.engine.WithdrawQuote(r.Context(), actor.CompanyID, id, actor.UserID); err != nil {
		respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase order id")
		return
	}
	po, lines, err := h.engine.repo.GetPO(r.Context(), actor.CompanyID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]POLineResponse, 0, len(lines))
	for _, line := range lines {
		out = append(out, toPOLineResponse(line))
	}
	resp := toPOResponse(po)
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_order": resp, "lines": out})
}
