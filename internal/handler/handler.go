// Package handler содержит HTTP-обработчики API движка совместных закупок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy-engine/internal/middleware"
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateGroupBuy(ctx context.Context, in service.CreateInput) (*model.GroupBuy, error)
	Status(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error)
	Join(ctx context.Context, id uuid.UUID, userID int64) (*model.GroupBuy, bool, error)
	Advance(ctx context.Context, id uuid.UUID) (*model.GroupBuy, bool, error)
	Complete(ctx context.Context, id uuid.UUID, actor int64) (*model.GroupBuy, error)
	CancelGroupBuy(ctx context.Context, id uuid.UUID, reason model.CancelReason) (*model.GroupBuy, error)

	ListBids(ctx context.Context, id uuid.UUID, viewerID int64) ([]service.BidListing, error)
	SubmitBid(ctx context.Context, in service.BidInput) (*model.Bid, bool, error)
	CancelBid(ctx context.Context, bidID uuid.UUID, sellerID int64) error

	RecordDecision(ctx context.Context, id uuid.UUID, actor int64, role model.Role, d model.Decision) (*model.GroupBuy, error)
	DecisionStatus(ctx context.Context, id uuid.UUID, actor int64) (model.DecisionSnapshot, error)
	RevealContacts(ctx context.Context, id uuid.UUID, viewer int64) (*model.ContactRecord, error)

	ListPenalties(ctx context.Context, sellerID int64) ([]model.PenaltyRecord, error)
	UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	admins         map[int64]struct{}
	metrics        http.Handler
	devSessions    bool
}

// Option настраивает обработчик.
type Option func(*Handler)

// WithAdmins задаёт пользователей, которым разрешена административная отмена закупок.
func WithAdmins(ids []int64) Option {
	return func(h *Handler) {
		for _, id := range ids {
			h.admins[id] = struct{}{}
		}
	}
}

// WithMetricsHandler публикует метрики Prometheus по пути /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithDevSessions включает POST /api/session, выдающий токен для любого пользователя.
// Только для локального запуска без внешнего сервиса идентификации.
func WithDevSessions(enabled bool) Option {
	return func(h *Handler) {
		h.devSessions = enabled
	}
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		admins:         make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type groupBuyResponse struct {
	ID                     uuid.UUID  `json:"id"`
	Title                  string     `json:"title"`
	Status                 string     `json:"status"`
	BidKind                string     `json:"bid_kind"`
	MinParticipants        int        `json:"min_participants"`
	ParticipantCount       int        `json:"participant_count"`
	ConfirmedCount         int        `json:"confirmed_count"`
	RecruitmentEndsAt      string     `json:"recruitment_ends_at"`
	BuyerDecisionDeadline  string     `json:"buyer_decision_deadline,omitempty"`
	SellerDecisionDeadline string     `json:"seller_decision_deadline,omitempty"`
	SelectedBidID          *uuid.UUID `json:"selected_bid_id,omitempty"`
	CancelReason           string     `json:"cancel_reason,omitempty"`
	Changed                *bool      `json:"changed,omitempty"`
	AlreadyJoined          *bool      `json:"already_joined,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func toGroupBuyResponse(gb *model.GroupBuy) groupBuyResponse {
	return groupBuyResponse{
		ID:                     gb.ID,
		Title:                  gb.Title,
		Status:                 string(gb.Status),
		BidKind:                string(gb.BidKind),
		MinParticipants:        gb.MinParticipants,
		ParticipantCount:       gb.ParticipantCount,
		ConfirmedCount:         gb.ConfirmedCount,
		RecruitmentEndsAt:      gb.RecruitmentEndsAt.Format(time.RFC3339),
		BuyerDecisionDeadline:  formatTime(gb.BuyerDecisionDeadline),
		SellerDecisionDeadline: formatTime(gb.SellerDecisionDeadline),
		SelectedBidID:          gb.SelectedBidID,
		CancelReason:           string(gb.CancelReason),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

// writeError переводит доменные ошибки в HTTP-статусы. Неизвестные ошибки логируются как 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string, fields ...zap.Field) {
	var denied *model.DeniedError
	switch {
	case errors.As(err, &denied):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"reason": string(denied.Reason)})
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, model.ErrClosedForBidding),
		errors.Is(err, model.ErrNotCancelable),
		errors.Is(err, model.ErrAlreadyDecided),
		errors.Is(err, model.ErrWrongStage),
		errors.Is(err, model.ErrWindowClosed),
		errors.Is(err, model.ErrVersionConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrBidKindMismatch),
		errors.Is(err, model.ErrInvalidDecision),
		errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

// currentUser возвращает пользователя из контекста или 0 для анонимного запроса.
func currentUser(r *http.Request) int64 {
	id, _ := middleware.GetUserIDFromContext(r.Context())
	return id
}

type sessionRequest struct {
	UserID int64 `json:"user_id"`
}

// IssueSession выдаёт токен идентификации. Маршрут подключается только при WithDevSessions.
func (h *Handler) IssueSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.authMiddleware.SetAuthCookie(w, req.UserID)
	h.writeJSON(w, http.StatusOK, map[string]string{"token": h.authMiddleware.Token(req.UserID)})
}

type createGroupBuyRequest struct {
	Title             string    `json:"title"`
	Kind              string    `json:"kind"`
	MinParticipants   int       `json:"min_participants"`
	RecruitmentEndsAt time.Time `json:"recruitment_ends_at"`
}

// CreateGroupBuy открывает новую закупку от имени текущего пользователя.
func (h *Handler) CreateGroupBuy(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)

	var req createGroupBuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	gb, err := h.service.CreateGroupBuy(r.Context(), service.CreateInput{
		Title:             req.Title,
		Kind:              model.BidKind(req.Kind),
		MinParticipants:   req.MinParticipants,
		RecruitmentEndsAt: req.RecruitmentEndsAt,
		CreatorID:         userID,
	})
	if err != nil {
		h.writeError(w, err, "create group buy", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusCreated, toGroupBuyResponse(gb))
}

// GetGroupBuy возвращает текущее состояние закупки.
func (h *Handler) GetGroupBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	gb, err := h.service.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get group buy", zap.String("groupBuyID", id.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, toGroupBuyResponse(gb))
}

// Join добавляет текущего пользователя в закупку.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	gb, already, err := h.service.Join(r.Context(), id, currentUser(r))
	if err != nil {
		h.writeError(w, err, "join group buy", zap.String("groupBuyID", id.String()))
		return
	}

	resp := toGroupBuyResponse(gb)
	resp.AlreadyJoined = &already

	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

// Advance пытается продвинуть закупку по жизненному циклу.
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	gb, changed, err := h.service.Advance(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "advance group buy", zap.String("groupBuyID", id.String()))
		return
	}

	resp := toGroupBuyResponse(gb)
	resp.Changed = &changed
	h.writeJSON(w, http.StatusOK, resp)
}

// Complete завершает закупку в работе.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	gb, err := h.service.Complete(r.Context(), id, currentUser(r))
	if err != nil {
		h.writeError(w, err, "complete group buy", zap.String("groupBuyID", id.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, toGroupBuyResponse(gb))
}

// Cancel отменяет закупку. Доступно только администраторам.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admins[currentUser(r)]; !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	gb, err := h.service.CancelGroupBuy(r.Context(), id, model.ReasonAdministrative)
	if err != nil {
		h.writeError(w, err, "cancel group buy", zap.String("groupBuyID", id.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, toGroupBuyResponse(gb))
}

// ListBids возвращает первые ставки рейтинга. Суммы маскируются в зависимости от зрителя.
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	listing, err := h.service.ListBids(r.Context(), id, currentUser(r))
	if err != nil {
		h.writeError(w, err, "list bids", zap.String("groupBuyID", id.String()))
		return
	}

	if len(listing) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, listing)
}

type submitBidRequest struct {
	Kind    string          `json:"kind"`
	Amount  decimal.Decimal `json:"amount"`
	Message string          `json:"message"`
}

type bidResponse struct {
	ID          uuid.UUID `json:"id"`
	GroupBuyID  uuid.UUID `json:"group_buy_id"`
	Kind        string    `json:"kind"`
	Amount      string    `json:"amount"`
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status"`
	SubmittedAt string    `json:"submitted_at"`
	Created     bool      `json:"created"`
}

// SubmitBid создаёт или обновляет ставку текущего продавца.
// 201 означает новую ставку, 200 - перезапись существующей.
func (h *Handler) SubmitBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req submitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID := currentUser(r)
	bid, created, err := h.service.SubmitBid(r.Context(), service.BidInput{
		GroupBuyID: id,
		SellerID:   userID,
		Kind:       model.BidKind(req.Kind),
		Amount:     req.Amount,
		Message:    req.Message,
	})
	if err != nil {
		h.writeError(w, err, "submit bid", zap.String("groupBuyID", id.String()), zap.Int64("userID", userID))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	h.writeJSON(w, status, bidResponse{
		ID:          bid.ID,
		GroupBuyID:  bid.GroupBuyID,
		Kind:        string(bid.Kind),
		Amount:      bid.Amount.String(),
		Message:     bid.Message,
		Status:      string(bid.Status),
		SubmittedAt: bid.SubmittedAt.Format(time.RFC3339),
		Created:     created,
	})
}

// CancelBid отзывает ставку текущего продавца.
func (h *Handler) CancelBid(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.CancelBid(r.Context(), id, currentUser(r)); err != nil {
		h.writeError(w, err, "cancel bid", zap.String("bidID", id.String()))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type decisionRequest struct {
	Role     string `json:"role"`
	Decision string `json:"decision"`
}

type decisionResponse struct {
	Role      string `json:"role"`
	Decision  string `json:"decision"`
	DecidedAt string `json:"decided_at,omitempty"`
	Deadline  string `json:"deadline,omitempty"`
	Implicit  bool   `json:"implicit,omitempty"`
}

// RecordDecision фиксирует окончательное решение текущего пользователя.
func (h *Handler) RecordDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.Role(req.Role)
	if role != model.RoleBuyer && role != model.RoleSeller {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID := currentUser(r)
	gb, err := h.service.RecordDecision(r.Context(), id, userID, role, model.Decision(req.Decision))
	if err != nil {
		h.writeError(w, err, "record decision", zap.String("groupBuyID", id.String()), zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, toGroupBuyResponse(gb))
}

// DecisionStatus возвращает состояние решения текущего пользователя.
func (h *Handler) DecisionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	snap, err := h.service.DecisionStatus(r.Context(), id, currentUser(r))
	if err != nil {
		h.writeError(w, err, "decision status", zap.String("groupBuyID", id.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, decisionResponse{
		Role:      string(snap.Role),
		Decision:  string(snap.Decision),
		DecidedAt: formatTime(snap.DecidedAt),
		Deadline:  formatTime(snap.Deadline),
		Implicit:  snap.Implicit,
	})
}

// RevealContacts возвращает контакты контрагентов или причину отказа.
func (h *Handler) RevealContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(r, "id")
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rec, err := h.service.RevealContacts(r.Context(), id, currentUser(r))
	if err != nil {
		h.writeError(w, err, "reveal contacts", zap.String("groupBuyID", id.String()))
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

type penaltyResponse struct {
	GroupBuyID uuid.UUID `json:"group_buy_id"`
	Points     int       `json:"points"`
	Reason     string    `json:"reason"`
	CreatedAt  string    `json:"created_at"`
}

// ListPenalties возвращает штрафы текущего продавца.
func (h *Handler) ListPenalties(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)

	penalties, err := h.service.ListPenalties(r.Context(), userID)
	if err != nil {
		h.writeError(w, err, "list penalties", zap.Int64("userID", userID))
		return
	}

	if len(penalties) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]penaltyResponse, 0, len(penalties))
	for _, p := range penalties {
		resp = append(resp, penaltyResponse{
			GroupBuyID: p.GroupBuyID,
			Points:     p.Points,
			Reason:     string(p.Reason),
			CreatedAt:  p.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type profileRequest struct {
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	BusinessName   string `json:"business_name"`
	BusinessNumber string `json:"business_number"`
}

// UpsertProfile сохраняет контактные данные текущего пользователя.
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID := currentUser(r)
	p, err := h.service.UpsertProfile(r.Context(), model.Profile{
		UserID:         userID,
		Name:           req.Name,
		Phone:          req.Phone,
		Address:        req.Address,
		BusinessName:   req.BusinessName,
		BusinessNumber: req.BusinessNumber,
	})
	if err != nil {
		h.writeError(w, err, "upsert profile", zap.Int64("userID", userID))
		return
	}

	h.writeJSON(w, http.StatusOK, profileRequest{
		Name:           p.Name,
		Phone:          p.Phone,
		Address:        p.Address,
		BusinessName:   p.BusinessName,
		BusinessNumber: p.BusinessNumber,
	})
}
