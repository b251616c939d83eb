package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy-engine/internal/middleware"
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/service"
)

type stubService struct {
	groupBuy    *model.GroupBuy
	groupBuyErr error

	joinAlready bool
	advanced    bool

	createInput service.CreateInput
	cancelled   model.CancelReason

	listing    []service.BidListing
	listViewer int64
	listErr    error

	bid        *model.Bid
	bidCreated bool
	bidInput   service.BidInput
	bidErr     error

	cancelBidErr error

	decisionRole model.Role
	decision     model.Decision
	decisionErr  error
	snapshot     model.DecisionSnapshot

	contacts    *model.ContactRecord
	contactsErr error

	penalties []model.PenaltyRecord

	profile    model.Profile
	profileErr error
}

func (s *stubService) CreateGroupBuy(ctx context.Context, in service.CreateInput) (*model.GroupBuy, error) {
	s.createInput = in
	return s.groupBuy, s.groupBuyErr
}

func (s *stubService) Status(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error) {
	return s.groupBuy, s.groupBuyErr
}

func (s *stubService) Join(ctx context.Context, id uuid.UUID, userID int64) (*model.GroupBuy, bool, error) {
	return s.groupBuy, s.joinAlready, s.groupBuyErr
}

func (s *stubService) Advance(ctx context.Context, id uuid.UUID) (*model.GroupBuy, bool, error) {
	return s.groupBuy, s.advanced, s.groupBuyErr
}

func (s *stubService) Complete(ctx context.Context, id uuid.UUID, actor int64) (*model.GroupBuy, error) {
	return s.groupBuy, s.groupBuyErr
}

func (s *stubService) CancelGroupBuy(ctx context.Context, id uuid.UUID, reason model.CancelReason) (*model.GroupBuy, error) {
	s.cancelled = reason
	return s.groupBuy, s.groupBuyErr
}

func (s *stubService) ListBids(ctx context.Context, id uuid.UUID, viewerID int64) ([]service.BidListing, error) {
	s.listViewer = viewerID
	return s.listing, s.listErr
}

func (s *stubService) SubmitBid(ctx context.Context, in service.BidInput) (*model.Bid, bool, error) {
	s.bidInput = in
	return s.bid, s.bidCreated, s.bidErr
}

func (s *stubService) CancelBid(ctx context.Context, bidID uuid.UUID, sellerID int64) error {
	return s.cancelBidErr
}

func (s *stubService) RecordDecision(ctx context.Context, id uuid.UUID, actor int64, role model.Role, d model.Decision) (*model.GroupBuy, error) {
	s.decisionRole = role
	s.decision = d
	return s.groupBuy, s.decisionErr
}

func (s *stubService) DecisionStatus(ctx context.Context, id uuid.UUID, actor int64) (model.DecisionSnapshot, error) {
	return s.snapshot, s.decisionErr
}

func (s *stubService) RevealContacts(ctx context.Context, id uuid.UUID, viewer int64) (*model.ContactRecord, error) {
	return s.contacts, s.contactsErr
}

func (s *stubService) ListPenalties(ctx context.Context, sellerID int64) ([]model.PenaltyRecord, error) {
	return s.penalties, nil
}

func (s *stubService) UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	if s.profileErr != nil {
		return model.Profile{}, s.profileErr
	}
	s.profile = p
	return p, nil
}

const (
	testUser  int64 = 42
	testAdmin int64 = 1
)

func newTestHandler(t *testing.T, svc Service, opts ...Option) (*Handler, *middleware.AuthMiddleware) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	auth := middleware.NewAuthMiddleware("test-secret")
	opts = append([]Option{WithAdmins([]int64{testAdmin})}, opts...)

	return NewHandler(svc, logger, auth, opts...), auth
}

func doRequest(t *testing.T, h *Handler, auth *middleware.AuthMiddleware, userID int64, method, target string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(middleware.AuthHeader, auth.Token(userID))
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	return rec.Result()
}

func sampleGroupBuy() *model.GroupBuy {
	return &model.GroupBuy{
		ID:                uuid.New(),
		Title:             "Кофе в зёрнах",
		Status:            model.StatusRecruiting,
		BidKind:           model.BidKindSupport,
		MinParticipants:   3,
		ParticipantCount:  1,
		RecruitmentEndsAt: time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateGroupBuy(t *testing.T) {
	gb := sampleGroupBuy()
	svc := &stubService{groupBuy: gb}
	h, auth := newTestHandler(t, svc)

	res := doRequest(t, h, auth, testUser, http.MethodPost, "/api/groupbuys", createGroupBuyRequest{
		Title:             gb.Title,
		Kind:              "support",
		MinParticipants:   3,
		RecruitmentEndsAt: gb.RecruitmentEndsAt,
	})
	defer res.Body.Close()

	require.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, testUser, svc.createInput.CreatorID)
	assert.Equal(t, model.BidKindSupport, svc.createInput.Kind)

	var resp groupBuyResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.Equal(t, gb.ID, resp.ID)
	assert.Equal(t, "recruiting", resp.Status)
	assert.Equal(t, "2026-11-01T12:00:00Z", resp.RecruitmentEndsAt)
}

func TestCreateGroupBuy_Unauthorized(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})

	res := doRequest(t, h, auth, 0, http.MethodPost, "/api/groupbuys", createGroupBuyRequest{})
	defer res.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestGetGroupBuy(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
	}{
		{name: "found", target: "/api/groupbuys/" + uuid.NewString(), wantStatus: http.StatusOK},
		{name: "not found", target: "/api/groupbuys/" + uuid.NewString(), err: model.ErrNotFound, wantStatus: http.StatusNotFound},
		{name: "bad id", target: "/api/groupbuys/abc", wantStatus: http.StatusBadRequest},
		{name: "internal", target: "/api/groupbuys/" + uuid.NewString(), err: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, auth := newTestHandler(t, &stubService{groupBuy: sampleGroupBuy(), groupBuyErr: tt.err})

			res := doRequest(t, h, auth, 0, http.MethodGet, tt.target, nil)
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
		})
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name       string
		already    bool
		wantStatus int
	}{
		{name: "first join", already: false, wantStatus: http.StatusCreated},
		{name: "repeated join", already: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, auth := newTestHandler(t, &stubService{groupBuy: sampleGroupBuy(), joinAlready: tt.already})

			res := doRequest(t, h, auth, testUser, http.MethodPost, "/api/groupbuys/"+uuid.NewString()+"/join", nil)
			defer res.Body.Close()

			require.Equal(t, tt.wantStatus, res.StatusCode)

			var resp groupBuyResponse
			require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
			require.NotNil(t, resp.AlreadyJoined)
			assert.Equal(t, tt.already, *resp.AlreadyJoined)
		})
	}
}

func TestAdvance(t *testing.T) {
	gb := sampleGroupBuy()
	gb.Status = model.StatusBidding
	h, auth := newTestHandler(t, &stubService{groupBuy: gb, advanced: true})

	res := doRequest(t, h, auth, testUser, http.MethodPost, "/api/groupbuys/"+gb.ID.String()+"/advance", nil)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp groupBuyResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	require.NotNil(t, resp.Changed)
	assert.True(t, *resp.Changed)
	assert.Equal(t, "bidding", resp.Status)
}

func TestCancel_AdminOnly(t *testing.T) {
	svc := &stubService{groupBuy: sampleGroupBuy()}
	h, auth := newTestHandler(t, svc)
	target := "/api/groupbuys/" + uuid.NewString() + "/cancel"

	res := doRequest(t, h, auth, testUser, http.MethodPost, target, nil)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, model.ReasonNone, svc.cancelled)

	res = doRequest(t, h, auth, testAdmin, http.MethodPost, target, nil)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, model.ReasonAdministrative, svc.cancelled)
}

func TestListBids(t *testing.T) {
	t.Run("anonymous viewer", func(t *testing.T) {
		svc := &stubService{listing: []service.BidListing{
			{ID: uuid.New(), SellerID: 7, Kind: model.BidKindSupport, DisplayAmount: "1**,***", Rank: 1},
		}}
		h, auth := newTestHandler(t, svc)

		res := doRequest(t, h, auth, 0, http.MethodGet, "/api/groupbuys/"+uuid.NewString()+"/bids", nil)
		defer res.Body.Close()

		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, int64(0), svc.listViewer)

		var got []service.BidListing
		require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "1**,***", got[0].DisplayAmount)
	})

	t.Run("authenticated viewer", func(t *testing.T) {
		svc := &stubService{}
		h, auth := newTestHandler(t, svc)

		res := doRequest(t, h, auth, testUser, http.MethodGet, "/api/groupbuys/"+uuid.NewString()+"/bids", nil)
		defer res.Body.Close()

		assert.Equal(t, http.StatusNoContent, res.StatusCode)
		assert.Equal(t, testUser, svc.listViewer)
	})
}

func TestSubmitBid(t *testing.T) {
	gbID := uuid.New()

	tests := []struct {
		name       string
		created    bool
		err        error
		wantStatus int
	}{
		{name: "new bid", created: true, wantStatus: http.StatusCreated},
		{name: "resubmission", created: false, wantStatus: http.StatusOK},
		{name: "closed", err: model.ErrClosedForBidding, wantStatus: http.StatusConflict},
		{name: "kind mismatch", err: model.ErrBidKindMismatch, wantStatus: http.StatusUnprocessableEntity},
		{name: "invalid amount", err: model.ErrInvalidAmount, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				bid: &model.Bid{
					ID:          uuid.New(),
					GroupBuyID:  gbID,
					SellerID:    testUser,
					Kind:        model.BidKindPrice,
					Amount:      decimal.RequireFromString("99000.50"),
					Status:      model.BidStatusPending,
					SubmittedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
				},
				bidCreated: tt.created,
				bidErr:     tt.err,
			}
			h, auth := newTestHandler(t, svc)

			res := doRequest(t, h, auth, testUser, http.MethodPost, fmt.Sprintf("/api/groupbuys/%s/bids", gbID), map[string]any{
				"kind":   "price",
				"amount": "99000.50",
			})
			defer res.Body.Close()

			require.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, testUser, svc.bidInput.SellerID)
			assert.Equal(t, gbID, svc.bidInput.GroupBuyID)
			assert.True(t, decimal.RequireFromString("99000.50").Equal(svc.bidInput.Amount))

			if tt.err != nil {
				return
			}
			var resp bidResponse
			require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
			assert.Equal(t, "99000.5", resp.Amount)
			assert.Equal(t, tt.created, resp.Created)
		})
	}
}

func TestSubmitBid_BadJSON(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/groupbuys/"+uuid.NewString()+"/bids", bytes.NewBufferString("{"))
	req.Header.Set(middleware.AuthHeader, auth.Token(testUser))
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelBid(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "ok", wantStatus: http.StatusNoContent},
		{name: "not owner", err: model.ErrForbidden, wantStatus: http.StatusForbidden},
		{name: "already selected", err: model.ErrNotCancelable, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, auth := newTestHandler(t, &stubService{cancelBidErr: tt.err})

			res := doRequest(t, h, auth, testUser, http.MethodDelete, "/api/bids/"+uuid.NewString(), nil)
			defer res.Body.Close()

			assert.Equal(t, tt.wantStatus, res.StatusCode)
		})
	}
}

func TestRecordDecision(t *testing.T) {
	tests := []struct {
		name       string
		body       decisionRequest
		err        error
		wantStatus int
	}{
		{name: "buyer confirms", body: decisionRequest{Role: "buyer", Decision: "confirmed"}, wantStatus: http.StatusOK},
		{name: "unknown role", body: decisionRequest{Role: "admin", Decision: "confirmed"}, wantStatus: http.StatusBadRequest},
		{name: "already decided", body: decisionRequest{Role: "seller", Decision: "cancelled"}, err: model.ErrAlreadyDecided, wantStatus: http.StatusConflict},
		{name: "window closed", body: decisionRequest{Role: "buyer", Decision: "cancelled"}, err: model.ErrWindowClosed, wantStatus: http.StatusConflict},
		{name: "invalid decision", body: decisionRequest{Role: "buyer", Decision: "pending"}, err: model.ErrInvalidDecision, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{groupBuy: sampleGroupBuy(), decisionErr: tt.err}
			h, auth := newTestHandler(t, svc)

			res := doRequest(t, h, auth, testUser, http.MethodPost, "/api/groupbuys/"+uuid.NewString()+"/decision", tt.body)
			defer res.Body.Close()

			require.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, model.RoleBuyer, svc.decisionRole)
				assert.Equal(t, model.DecisionConfirmed, svc.decision)
			}
		})
	}
}

func TestDecisionStatus(t *testing.T) {
	deadline := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	svc := &stubService{snapshot: model.DecisionSnapshot{
		Role:     model.RoleBuyer,
		Decision: model.DecisionCancelled,
		Deadline: &deadline,
		Implicit: true,
	}}
	h, auth := newTestHandler(t, svc)

	res := doRequest(t, h, auth, testUser, http.MethodGet, "/api/groupbuys/"+uuid.NewString()+"/decision", nil)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp decisionResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.Equal(t, "cancelled", resp.Decision)
	assert.Equal(t, "2026-10-19T00:00:00Z", resp.Deadline)
	assert.True(t, resp.Implicit)
	assert.Empty(t, resp.DecidedAt)
}

func TestRevealContacts(t *testing.T) {
	t.Run("granted", func(t *testing.T) {
		svc := &stubService{contacts: &model.ContactRecord{
			Seller: &model.SellerContact{SellerID: 7, Name: "ООО Ромашка", Phone: "010-1234-5678"},
		}}
		h, auth := newTestHandler(t, svc)

		res := doRequest(t, h, auth, testUser, http.MethodGet, "/api/groupbuys/"+uuid.NewString()+"/contacts", nil)
		defer res.Body.Close()

		require.Equal(t, http.StatusOK, res.StatusCode)

		var rec model.ContactRecord
		require.NoError(t, json.NewDecoder(res.Body).Decode(&rec))
		require.NotNil(t, rec.Seller)
		assert.Equal(t, "010-1234-5678", rec.Seller.Phone)
		assert.Empty(t, rec.Buyers)
	})

	t.Run("denied carries reason only", func(t *testing.T) {
		svc := &stubService{contactsErr: model.Deny(model.DenyBuyersPending)}
		h, auth := newTestHandler(t, svc)

		res := doRequest(t, h, auth, testUser, http.MethodGet, "/api/groupbuys/"+uuid.NewString()+"/contacts", nil)
		defer res.Body.Close()

		require.Equal(t, http.StatusForbidden, res.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
		assert.Equal(t, map[string]string{"reason": "buyers_pending"}, body)
	})
}

func TestListPenalties(t *testing.T) {
	svc := &stubService{penalties: []model.PenaltyRecord{
		{ID: uuid.New(), SellerID: testUser, GroupBuyID: uuid.New(), Points: 1, Reason: model.PenaltySellerTimeout},
	}}
	h, auth := newTestHandler(t, svc)

	res := doRequest(t, h, auth, testUser, http.MethodGet, "/api/penalties", nil)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp []penaltyResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "seller_timeout", resp[0].Reason)
}

func TestUpsertProfile(t *testing.T) {
	svc := &stubService{}
	h, auth := newTestHandler(t, svc)

	res := doRequest(t, h, auth, testUser, http.MethodPut, "/api/profile", profileRequest{
		Name:  "Ким",
		Phone: "010-0000-0000",
	})
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, testUser, svc.profile.UserID)

	svc.profileErr = fmt.Errorf("%w: phone", model.ErrValidation)
	res = doRequest(t, h, auth, testUser, http.MethodPut, "/api/profile", profileRequest{Name: "Ким"})
	defer res.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestIssueSession(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{}, WithDevSessions(true))

	res := doRequest(t, h, auth, 0, http.MethodPost, "/api/session", sessionRequest{UserID: testUser})
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, auth.Token(testUser), body["token"])
	assert.NotEmpty(t, res.Cookies())

	res = doRequest(t, h, auth, 0, http.MethodPost, "/api/session", sessionRequest{})
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestIssueSession_DisabledByDefault(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})

	res := doRequest(t, h, auth, 0, http.MethodPost, "/api/session", sessionRequest{UserID: testAdmin})
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestMetricsEndpoint_GzipEncodedOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "groupbuy_sweeps_total", Help: "Sweeps."})
	reg.MustRegister(counter)
	counter.Inc()

	h, _ := newTestHandler(t, &stubService{}, WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "gzip", res.Header.Get("Content-Encoding"))

	gr, err := gzip.NewReader(res.Body)
	require.NoError(t, err)
	defer gr.Close()

	body, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Contains(t, string(body), "groupbuy_sweeps_total 1")
}

func TestMetricsEndpoint(t *testing.T) {
	logger := zap.NewNop()
	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(&stubService{}, logger, auth, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("groupbuy_transitions_total 1\n"))
	})))

	res := doRequest(t, h, auth, 0, http.MethodGet, "/metrics", nil)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	h, auth := newTestHandler(t, &stubService{})

	res := doRequest(t, h, auth, 0, http.MethodGet, "/api/unknown", nil)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
