package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy-engine/internal/auction"
	"github.com/mmeshcher/groupbuy-engine/internal/lifecycle"
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/notify"
)

// Status возвращает текущее состояние закупки.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*model.GroupBuy, error) {
	return s.repo.GetGroupBuy(ctx, id)
}

// Advance пытается продвинуть закупку по автомату. Если ни одно условие
// перехода не выполнено, возвращается текущее состояние и changed=false.
func (s *Service) Advance(ctx context.Context, id uuid.UUID) (*model.GroupBuy, bool, error) {
	var (
		gb     *model.GroupBuy
		events []notify.Event
	)

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockGroupBuy(ctx, id)
		if err != nil {
			return err
		}

		events, err = s.advanceLocked(ctx, locked)
		if err != nil {
			return err
		}

		gb = locked
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.publish(ctx, events)
	return gb, len(events) > 0, nil
}

// advanceLocked применяет переходы, пока они есть. Строка закупки должна быть заблокирована.
func (s *Service) advanceLocked(ctx context.Context, gb *model.GroupBuy) ([]notify.Event, error) {
	var events []notify.Event

	for i := 0; i < maxAdvanceSteps; i++ {
		now := s.clock()

		state, err := s.loadState(ctx, gb)
		if err != nil {
			return nil, err
		}

		tr, ok := s.machine.Next(state, now)
		if !ok {
			break
		}

		evs, err := s.apply(ctx, gb, tr, now)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	return events, nil
}

// loadState загружает только те данные, которые нужны автомату на текущей стадии.
func (s *Service) loadState(ctx context.Context, gb *model.GroupBuy) (lifecycle.State, error) {
	state := lifecycle.State{GroupBuy: gb}

	switch gb.Status {
	case model.StatusBidding:
		bids, err := s.repo.ListBids(ctx, gb.ID)
		if err != nil {
			return state, err
		}
		state.BidCount = len(bids)

	case model.StatusFinalSelectionBuyers:
		ps, err := s.repo.ListParticipants(ctx, gb.ID)
		if err != nil {
			return state, err
		}
		state.Participants = ps

	case model.StatusFinalSelectionSeller:
		sd, err := s.repo.GetSellerDecision(ctx, gb.ID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return state, err
		}
		state.SellerDecision = sd
	}

	return state, nil
}

// apply применяет переход и его побочные действия внутри транзакции.
func (s *Service) apply(ctx context.Context, gb *model.GroupBuy, tr lifecycle.Transition, now time.Time) ([]notify.Event, error) {
	var events []notify.Event

	if tr.SelectWinner {
		winner, err := s.selectLocked(ctx, gb)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("select winner for %s: no eligible bids", gb.ID)
		}
	}

	for _, userID := range tr.ExpireBuyers {
		at := now
		if gb.BuyerDecisionDeadline != nil {
			at = *gb.BuyerDecisionDeadline
		}
		err := s.repo.DecideParticipant(ctx, gb.ID, userID, model.DecisionCancelled, at)
		if err != nil && !errors.Is(err, model.ErrAlreadyDecided) {
			return nil, fmt.Errorf("expire buyer %d: %w", userID, err)
		}
		events = append(events, notify.Event{
			Type:       notify.EventDecision,
			GroupBuyID: gb.ID,
			UserID:     userID,
			Decision:   string(model.DecisionCancelled),
			Reason:     "deadline_expired",
			At:         at,
		})
	}

	if tr.ExpireSeller {
		at := now
		if gb.SellerDecisionDeadline != nil {
			at = *gb.SellerDecisionDeadline
		}
		err := s.repo.DecideSeller(ctx, gb.ID, model.DecisionCancelled, at)
		if err != nil && !errors.Is(err, model.ErrAlreadyDecided) {
			return nil, fmt.Errorf("expire seller: %w", err)
		}
	}

	if tr.BuyerDeadline != nil {
		gb.BuyerDecisionDeadline = tr.BuyerDeadline
	}

	if tr.From == model.StatusFinalSelectionBuyers {
		gb.ConfirmedCount = tr.Confirmed
	}

	if tr.To == model.StatusFinalSelectionSeller {
		if err := s.openSellerWindow(ctx, gb, *tr.SellerDeadline); err != nil {
			return nil, err
		}
		gb.SellerDecisionDeadline = tr.SellerDeadline
	}

	gb.Status = tr.To
	if tr.To == model.StatusCancelled {
		gb.CancelReason = tr.Reason
	}

	if err := s.repo.UpdateGroupBuy(ctx, gb); err != nil {
		return nil, fmt.Errorf("update group buy: %w", err)
	}

	s.metrics.Transition(string(tr.From), string(tr.To))
	s.logger.Info("group buy transition",
		zap.String("groupBuyID", gb.ID.String()),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("reason", string(tr.Reason)),
	)

	events = append(events, notify.Event{
		Type:       notify.EventTransition,
		GroupBuyID: gb.ID,
		From:       string(tr.From),
		To:         string(tr.To),
		Reason:     string(tr.Reason),
		At:         now,
	})

	if tr.SellerWithdrew() {
		ev, err := s.penalize(ctx, gb, tr, now)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}

	return events, nil
}

// selectLocked выбирает победителя торгов. Повторный вызов возвращает уже выбранную ставку.
func (s *Service) selectLocked(ctx context.Context, gb *model.GroupBuy) (*model.Bid, error) {
	if gb.SelectedBidID != nil {
		return s.repo.GetBid(ctx, *gb.SelectedBidID)
	}

	bids, err := s.repo.ListBids(ctx, gb.ID)
	if err != nil {
		return nil, err
	}

	sel := auction.Select(gb.BidKind, bids, nil)
	if sel.Winner == nil {
		return nil, nil
	}

	if err := s.repo.MarkBidsSelected(ctx, gb.ID, sel.Winner.ID); err != nil {
		return nil, fmt.Errorf("mark bids selected: %w", err)
	}

	id := sel.Winner.ID
	gb.SelectedBidID = &id
	return sel.Winner, nil
}

func (s *Service) openSellerWindow(ctx context.Context, gb *model.GroupBuy, deadline time.Time) error {
	if gb.SelectedBidID == nil {
		return fmt.Errorf("open seller window for %s: no selected bid", gb.ID)
	}

	winner, err := s.repo.GetBid(ctx, *gb.SelectedBidID)
	if err != nil {
		return fmt.Errorf("get selected bid: %w", err)
	}

	return s.repo.CreateSellerDecision(ctx, &model.SellerDecision{
		GroupBuyID: gb.ID,
		SellerID:   winner.SellerID,
		Decision:   model.DecisionPending,
		Deadline:   deadline,
	})
}

func (s *Service) penalize(ctx context.Context, gb *model.GroupBuy, tr lifecycle.Transition, now time.Time) (*notify.Event, error) {
	sd, err := s.repo.GetSellerDecision(ctx, gb.ID)
	if err != nil {
		return nil, fmt.Errorf("get seller decision: %w", err)
	}

	reason := model.PenaltySellerCancelled
	if tr.Reason == model.ReasonSellerTimeout {
		reason = model.PenaltySellerTimeout
	}

	rec := s.penalties.Evaluate(gb, sd, tr.Confirmed, reason, now)
	if rec == nil {
		return nil, nil
	}

	if err := s.repo.CreatePenalty(ctx, rec); err != nil {
		return nil, fmt.Errorf("create penalty: %w", err)
	}

	s.metrics.Penalty()
	s.logger.Info("seller penalized",
		zap.String("groupBuyID", gb.ID.String()),
		zap.Int64("sellerID", rec.SellerID),
		zap.Int("points", rec.Points),
		zap.String("reason", string(rec.Reason)),
	)

	return &notify.Event{
		Type:       notify.EventPenalty,
		GroupBuyID: gb.ID,
		UserID:     rec.SellerID,
		Reason:     string(rec.Reason),
		At:         now,
	}, nil
}

// SweepOnce продвигает все незавершённые закупки и возвращает число изменённых.
// Ошибка по одной закупке логируется и не прерывает проверку остальных.
func (s *Service) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	advanced, failed := 0, 0
	after := uuid.Nil

	defer func() {
		s.metrics.Sweep(time.Since(start), failed)
	}()

	for {
		ids, err := s.repo.ListOpenGroupBuys(ctx, after, sweepBatchSize)
		if err != nil {
			return advanced, fmt.Errorf("list open group buys: %w", err)
		}

		for _, id := range ids {
			itemCtx, cancel := context.WithTimeout(ctx, sweepItemTimeout)
			_, changed, err := s.Advance(itemCtx, id)
			cancel()

			if err != nil {
				if ctx.Err() != nil {
					return advanced, ctx.Err()
				}
				failed++
				s.logger.Error("advance group buy", zap.Error(err), zap.String("groupBuyID", id.String()))
				continue
			}
			if changed {
				advanced++
			}
		}

		if len(ids) < sweepBatchSize {
			return advanced, nil
		}
		after = ids[len(ids)-1]
	}
}

// StartDeadlineSweeps запускает фоновую проверку сроков с периодом sweepInterval.
func (s *Service) StartDeadlineSweeps(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.SweepOnce(ctx)
				if err != nil && ctx.Err() == nil {
					s.logger.Error("deadline sweep", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Debug("deadline sweep advanced group buys", zap.Int("count", n))
				}
			}
		}
	}()
}
