package approval

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sourcelane/sourcelane/internal/directory"
	"github.com/sourcelane/sourcelane/internal/money"
	"github.com/sourcelane/sourcelane/internal/platform/httpx"
	"github.com/sourcelane/sourcelane/internal/shared"
)

// CompanyDirectory resolves a company's base currency so threshold amounts
// can be converted to minor units at the boundary.
type CompanyDirectory interface {
	GetCompany(ctx context.Context, companyID int64) (directory.Company, error)
}

// Handler exposes approval and delegation endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	companies CompanyDirectory
	validate  *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, companies CompanyDirectory) *Handler {
	return &Handler{logger: logger, service: service, companies: companies, validate: validator.New()}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/approvals/pending", h.listPending)
	r.Post("/approvals/start", h.startChain)
	r.Post("/approvals/{id}/decision", h.decide)
	r.Post("/approval-rules", h.createRule)
	r.Post("/approval-rules/{id}/deactivate", h.deactivateRule)
	r.Get("/delegations", h.listDelegations)
	r.Post("/delegations", h.createDelegation)
	r.Put("/delegations/{id}", h.updateDelegation)
	r.Delete("/delegations/{id}", h.deleteDelegation)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
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

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	pending, err := h.service.ListPendingFor(r.Context(), actor.CompanyID, actor.UserID)
	if err != nil {
		h.logger.Error("list pending approvals", slog.Any("error", err))
		respondError(w, err)
		return
	}
	out := make([]ApprovalResponse, 0, len(pending))
	for _, a := range pending {
		out = append(out, toApprovalResponse(a))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": out})
}

func (h *Handler) startChain(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	var req StartChainRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amountMinor, err := parseAmountMinor(req.Amount, req.Currency)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid amount")
		return
	}
	created, err := h.service.StartChain(r.Context(), StartChainInput{
		CompanyID:   actor.CompanyID,
		TargetKind:  TargetKind(req.TargetType),
		TargetID:    req.TargetID,
		AmountMinor: amountMinor,
		Currency:    req.Currency,
		ActorID:     actor.UserID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]ApprovalResponse, 0, len(created))
	for _, a := range created {
		out = append(out, toApprovalResponse(a))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"approvals": out})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid approval id")
		return
	}
	var req DecisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Process(r.Context(), ProcessInput{
		CompanyID:  actor.CompanyID,
		ApprovalID: id,
		Decision:   Decision(req.Decision),
		Comment:    req.Comment,
		ActorID:    actor.UserID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	resp := map[string]any{
		"approval":       toApprovalResponse(result.Approval),
		"chain_complete": result.ChainComplete,
	}
	if result.Next != nil {
		resp["next"] = toApprovalResponse(*result.Next)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	var req RuleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	company, err := h.companies.GetCompany(r.Context(), actor.CompanyID)
	if err != nil {
		h.logger.Error("resolve company", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	input := CreateRuleInput{
		CompanyID:  actor.CompanyID,
		TargetKind: TargetKind(req.TargetType),
		ActorID:    actor.UserID,
	}
	if input.ThresholdMinMinor, err = parseAmountMinor(req.ThresholdMin, company.Currency); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid threshold_min")
		return
	}
	if input.ThresholdMaxMinor, err = parseAmountMinor(req.ThresholdMax, company.Currency); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid threshold_max")
		return
	}
	for _, lvl := range req.Levels {
		maxMinor, err := parseAmountMinor(lvl.MaxAmount, company.Currency)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid max_amount")
			return
		}
		input.Levels = append(input.Levels, Level{
			LevelNo:        lvl.LevelNo,
			ApproverSpec:   ApproverSpec{UserID: lvl.ApproverUserID, Role: lvl.ApproverRole},
			MaxAmountMinor: maxMinor,
		})
	}
	rule, err := h.service.CreateRule(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": rule.ID})
}

func (h *Handler) deactivateRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid rule id")
		return
	}
	if err := h.service.DeactivateRule(r.Context(), actor.CompanyID, id, actor.UserID); err != nil {
		respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listDelegations(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	approverID, _ := strconv.ParseInt(r.URL.Query().Get("approver_user_id"), 10, 64)
	if approverID == 0 {
		approverID = actor.UserID
	}
	delegations, err := h.service.repo.ListDelegations(r.Context(), actor.CompanyID, approverID)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]DelegationResponse, 0, len(delegations))
	for _, d := range delegations {
		out = append(out, toDelegationResponse(d))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"delegations": out})
}

func (h *Handler) decodeDelegation(w http.ResponseWriter, r *http.Request, actor shared.Actor) (DelegationInput, bool) {
	var req DelegationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed body")
		return DelegationInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return DelegationInput{}, false
	}
	startsAt, _ := time.Parse("2006-01-02", req.StartsAt)
	endsAt, _ := time.Parse("2006-01-02", req.EndsAt)
	return DelegationInput{
		CompanyID:      actor.CompanyID,
		ApproverUserID: req.ApproverUserID,
		DelegateUserID: req.DelegateUserID,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		ActorID:        actor.UserID,
	}, true
}

func (h *Handler) createDelegation(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	input, ok := h.decodeDelegation(w, r, actor)
	if !ok {
		return
	}
	d, err := h.service.CreateDelegation(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDelegationResponse(d))
}

func (h *Handler) updateDelegation(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid delegation id")
		return
	}
	input, ok := h.decodeDelegation(w, r, actor)
	if !ok {
		return
	}
	d, err := h.service.UpdateDelegation(r.Context(), id, input)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDelegationResponse(d))
}

func (h *Handler) deleteDelegation(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "acting user required")
		return
	}
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid delegation id")
		return
	}
	if err := h.service.DeleteDelegation(r.Context(), actor.CompanyID, id, actor.UserID); err != nil {
		respondError(w, err)
		return
	}
	httpx.NoContent(w)
}

// parseAmountMinor converts a display amount string into minor units of the
// given currency. Empty input means zero.
func parseAmountMinor(raw, currency string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, err
	}
	m, err := money.FromDecimal(d, currency)
	if err != nil {
		return 0, err
	}
	return m.AmountMinor, nil
}
