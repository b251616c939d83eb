package repository

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется без DATABASE_URI и в тестах.
// Транзакции выполняются по одной; при ошибке состояние откатывается к снимку.
type MemoryRepository struct {
	mu sync.Mutex

	groupBuys       map[uuid.UUID]model.GroupBuy
	bids            map[uuid.UUID]model.Bid
	participants    map[uuid.UUID][]model.Participant
	sellerDecisions map[uuid.UUID]model.SellerDecision
	penalties       []model.PenaltyRecord
	profiles        map[int64]model.Profile
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		groupBuys:       make(map[uuid.UUID]model.GroupBuy),
		bids:            make(map[uuid.UUID]model.Bid),
		participants:    make(map[uuid.UUID][]model.Participant),
		sellerDecisions: make(map[uuid.UUID]model.SellerDecision),
		profiles:        make(map[int64]model.Profile),
	}
}

type memTxKey struct{}

// lock захватывает мьютекс, если вызов не находится внутри транзакции этого хранилища.
func (r *MemoryRepository) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(memTxKey{}).(*MemoryRepository); ok && owner == r {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

type memSnapshot struct {
	groupBuys       map[uuid.UUID]model.GroupBuy
	bids            map[uuid.UUID]model.Bid
	participants    map[uuid.UUID][]model.Participant
	sellerDecisions map[uuid.UUID]model.SellerDecision
	penalties       []model.PenaltyRecord
	profiles        map[int64]model.Profile
}

func (r *MemoryRepository) snapshot() memSnapshot {
	ps := make(map[uuid.UUID][]model.Participant, len(r.participants))
	for id, list := range r.participants {
		ps[id] = slices.Clone(list)
	}
	return memSnapshot{
		groupBuys:       maps.Clone(r.groupBuys),
		bids:            maps.Clone(r.bids),
		participants:    ps,
		sellerDecisions: maps.Clone(r.sellerDecisions),
		penalties:       slices.Clone(r.penalties),
		profiles:        maps.Clone(r.profiles),
	}
}

func (r *MemoryRepository) restore(s memSnapshot) {
	r.groupBuys = s.groupBuys
	r.bids = s.bids
	r.participants = s.participants
	r.sellerDecisions = s.sellerDecisions
	r.penalties = s.penalties
	r.profiles = s.profiles
}

// RunInTx выполняет fn под общим мьютексом и откатывает изменения, если fn вернула ошибку.
func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(memTxKey{}).(*MemoryRepository); ok && owner == r {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, r)); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// CreateGroupBuy сохраняет новую закупку.
func (r *MemoryRepository) CreateGroupBuy(ctx context.Context, gb *model.GroupBuy) error {
	defer r.lock(ctx)()

	if _, ok := r.groupBuys[gb.ID]; ok {
		return model.ErrValidation
	}

	gb.Version = 1
	r.groupBuys[gb.ID] = *gb
	return nil
}

// GetGroupBuy возвращает копию закупки.
func (r *MemoryRepository) GetGroupBuy(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error) {
	defer r.lock(ctx)()

	gb, ok := r.groupBuys[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &gb, nil
}

// LockGroupBuy совпадает с GetGroupBuy: транзакции и так выполняются по одной.
func (r *MemoryRepository) LockGroupBuy(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error) {
	return r.GetGroupBuy(ctx, id)
}

// UpdateGroupBuy сохраняет закупку, если версия не изменилась.
func (r *MemoryRepository) UpdateGroupBuy(ctx context.Context, gb *model.GroupBuy) error {
	defer r.lock(ctx)()

	cur, ok := r.groupBuys[gb.ID]
	if !ok {
		return model.ErrNotFound
	}
	if cur.Version != gb.Version {
		return model.ErrVersionConflict
	}

	gb.Version++
	gb.UpdatedAt = time.Now().UTC()
	r.groupBuys[gb.ID] = *gb
	return nil
}

// ListOpenGroupBuys возвращает идентификаторы незавершённых закупок после after.
func (r *MemoryRepository) ListOpenGroupBuys(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	defer r.lock(ctx)()

	ids := make([]uuid.UUID, 0)
	for id, gb := range r.groupBuys {
		if gb.Status.IsTerminal() || bytes.Compare(id[:], after[:]) <= 0 {
			continue
		}
		ids = append(ids, id)
	}

	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// UpsertBid вставляет ставку или перезаписывает действующую ставку того же продавца.
func (r *MemoryRepository) UpsertBid(ctx context.Context, bid *model.Bid) (bool, error) {
	defer r.lock(ctx)()

	if _, ok := r.groupBuys[bid.GroupBuyID]; !ok {
		return false, model.ErrNotFound
	}

	for id, existing := range r.bids {
		if existing.GroupBuyID != bid.GroupBuyID || existing.SellerID != bid.SellerID {
			continue
		}
		if existing.Status != model.BidStatusPending {
			return false, model.ErrClosedForBidding
		}

		existing.Kind = bid.Kind
		existing.Amount = bid.Amount
		existing.Message = bid.Message
		existing.SubmittedAt = bid.SubmittedAt
		existing.UpdatedAt = bid.UpdatedAt
		existing.Version++
		r.bids[id] = existing

		*bid = existing
		return false, nil
	}

	bid.Version = 1
	r.bids[bid.ID] = *bid
	return true, nil
}

// GetBid возвращает копию ставки.
func (r *MemoryRepository) GetBid(ctx context.Context, id uuid.UUID) (*model.Bid, error) {
	defer r.lock(ctx)()

	b, ok := r.bids[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &b, nil
}

// ListBids возвращает ставки закупки в порядке подачи.
func (r *MemoryRepository) ListBids(ctx context.Context, groupBuyID uuid.UUID) ([]model.Bid, error) {
	defer r.lock(ctx)()

	var res []model.Bid
	for _, b := range r.bids {
		if b.GroupBuyID == groupBuyID {
			res = append(res, b)
		}
	}

	slices.SortFunc(res, func(a, b model.Bid) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return res, nil
}

// DeleteBid удаляет ставку, пока она не выбрана и не отклонена.
func (r *MemoryRepository) DeleteBid(ctx context.Context, id uuid.UUID) error {
	defer r.lock(ctx)()

	b, ok := r.bids[id]
	if !ok || b.Status != model.BidStatusPending {
		return model.ErrNotCancelable
	}
	delete(r.bids, id)
	return nil
}

// MarkBidsSelected отмечает победившую ставку выбранной, а остальные действующие отклонёнными.
func (r *MemoryRepository) MarkBidsSelected(ctx context.Context, groupBuyID, winnerID uuid.UUID) error {
	defer r.lock(ctx)()

	now := time.Now().UTC()
	for id, b := range r.bids {
		if b.GroupBuyID != groupBuyID || b.Status != model.BidStatusPending {
			continue
		}
		if id == winnerID {
			b.Status = model.BidStatusSelected
		} else {
			b.Status = model.BidStatusRejected
		}
		b.Version++
		b.UpdatedAt = now
		r.bids[id] = b
	}
	return nil
}

// AddParticipant добавляет участника и сообщает, состоял ли он в закупке раньше.
func (r *MemoryRepository) AddParticipant(ctx context.Context, p *model.Participant) (bool, error) {
	defer r.lock(ctx)()

	if _, ok := r.groupBuys[p.GroupBuyID]; !ok {
		return false, model.ErrNotFound
	}

	for _, existing := range r.participants[p.GroupBuyID] {
		if existing.UserID == p.UserID {
			return true, nil
		}
	}

	r.participants[p.GroupBuyID] = append(r.participants[p.GroupBuyID], *p)
	return false, nil
}

// ListParticipants возвращает участников закупки в порядке вступления.
func (r *MemoryRepository) ListParticipants(ctx context.Context, groupBuyID uuid.UUID) ([]model.Participant, error) {
	defer r.lock(ctx)()

	return slices.Clone(r.participants[groupBuyID]), nil
}

// DecideParticipant записывает решение покупателя, только если оно ещё не принято.
func (r *MemoryRepository) DecideParticipant(ctx context.Context, groupBuyID uuid.UUID, userID int64, d model.Decision, at time.Time) error {
	defer r.lock(ctx)()

	list := r.participants[groupBuyID]
	for i := range list {
		if list[i].UserID != userID {
			continue
		}
		if list[i].Decision != model.DecisionPending {
			return model.ErrAlreadyDecided
		}
		list[i].Decision = d
		list[i].DecidedAt = &at
		return nil
	}
	return model.ErrAlreadyDecided
}

// CreateSellerDecision открывает окно решения продавца. Повторное создание ничего не меняет.
func (r *MemoryRepository) CreateSellerDecision(ctx context.Context, sd *model.SellerDecision) error {
	defer r.lock(ctx)()

	if _, ok := r.sellerDecisions[sd.GroupBuyID]; ok {
		return nil
	}
	r.sellerDecisions[sd.GroupBuyID] = *sd
	return nil
}

// GetSellerDecision возвращает решение выбранного продавца.
func (r *MemoryRepository) GetSellerDecision(ctx context.Context, groupBuyID uuid.UUID) (*model.SellerDecision, error) {
	defer r.lock(ctx)()

	sd, ok := r.sellerDecisions[groupBuyID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &sd, nil
}

// DecideSeller записывает решение продавца, только если оно ещё не принято.
func (r *MemoryRepository) DecideSeller(ctx context.Context, groupBuyID uuid.UUID, d model.Decision, at time.Time) error {
	defer r.lock(ctx)()

	sd, ok := r.sellerDecisions[groupBuyID]
	if !ok || sd.Decision != model.DecisionPending {
		return model.ErrAlreadyDecided
	}

	sd.Decision = d
	sd.DecidedAt = &at
	r.sellerDecisions[groupBuyID] = sd
	return nil
}

// CreatePenalty сохраняет штраф. На одну закупку приходится не больше одного штрафа.
func (r *MemoryRepository) CreatePenalty(ctx context.Context, p *model.PenaltyRecord) error {
	defer r.lock(ctx)()

	for _, existing := range r.penalties {
		if existing.GroupBuyID == p.GroupBuyID {
			return nil
		}
	}
	r.penalties = append(r.penalties, *p)
	return nil
}

// ListPenaltiesBySeller возвращает штрафы продавца, новые первыми.
func (r *MemoryRepository) ListPenaltiesBySeller(ctx context.Context, sellerID int64) ([]model.PenaltyRecord, error) {
	defer r.lock(ctx)()

	var res []model.PenaltyRecord
	for _, p := range r.penalties {
		if p.SellerID == sellerID {
			res = append(res, p)
		}
	}

	slices.SortStableFunc(res, func(a, b model.PenaltyRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return res, nil
}

// UpsertProfile сохраняет контактные данные пользователя.
func (r *MemoryRepository) UpsertProfile(ctx context.Context, p model.Profile) error {
	defer r.lock(ctx)()

	r.profiles[p.UserID] = p
	return nil
}

// GetProfiles возвращает профили указанных пользователей. Отсутствующие профили пропускаются.
func (r *MemoryRepository) GetProfiles(ctx context.Context, ids []int64) (map[int64]model.Profile, error) {
	defer r.lock(ctx)()

	res := make(map[int64]model.Profile, len(ids))
	for _, id := range ids {
		if p, ok := r.profiles[id]; ok {
			res[id] = p
		}
	}
	return res, nil
}
