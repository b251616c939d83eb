package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy-engine/internal/lifecycle"
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/notify"
)

// CreateInput - параметры новой совместной закупки.
type CreateInput struct {
	Title             string
	Kind              model.BidKind
	MinParticipants   int
	RecruitmentEndsAt time.Time
	CreatorID         int64
}

func (in CreateInput) validate(now time.Time) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: empty title", model.ErrValidation)
	case !in.Kind.Valid():
		return fmt.Errorf("%w: unknown bid kind %q", model.ErrValidation, in.Kind)
	case in.MinParticipants < 1:
		return fmt.Errorf("%w: min participants must be positive", model.ErrValidation)
	case !in.RecruitmentEndsAt.After(now):
		return fmt.Errorf("%w: recruitment end must be in the future", model.ErrValidation)
	case in.CreatorID == 0:
		return fmt.Errorf("%w: creator is required", model.ErrValidation)
	}
	return nil
}

// CreateGroupBuy открывает закупку; создатель становится её первым участником.
func (s *Service) CreateGroupBuy(ctx context.Context, in CreateInput) (*model.GroupBuy, error) {
	now := s.clock()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	draft := model.GroupBuy{
		ID:                uuid.New(),
		Title:             strings.TrimSpace(in.Title),
		Status:            model.StatusRecruiting,
		BidKind:           in.Kind,
		MinParticipants:   in.MinParticipants,
		RecruitmentEndsAt: in.RecruitmentEndsAt.UTC(),
		ParticipantCount:  1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var (
		gb     *model.GroupBuy
		events []notify.Event
	)
	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		fresh := draft
		gb = &fresh

		if err := s.repo.CreateGroupBuy(ctx, gb); err != nil {
			return fmt.Errorf("create group buy: %w", err)
		}

		if _, err := s.repo.AddParticipant(ctx, &model.Participant{
			GroupBuyID: gb.ID,
			UserID:     in.CreatorID,
			Decision:   model.DecisionPending,
			JoinedAt:   now,
		}); err != nil {
			return fmt.Errorf("add creator: %w", err)
		}

		var err error
		events, err = s.advanceLocked(ctx, gb)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group buy created",
		zap.String("groupBuyID", gb.ID.String()),
		zap.String("kind", string(gb.BidKind)),
		zap.Int64("creatorID", in.CreatorID),
	)
	s.publish(ctx, events)

	return gb, nil
}

// Join добавляет покупателя в закупку. Повторное вступление возвращает already=true.
func (s *Service) Join(ctx context.Context, groupBuyID uuid.UUID, userID int64) (*model.GroupBuy, bool, error) {
	var (
		gb      *model.GroupBuy
		already bool
		events  []notify.Event
	)

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		events = nil

		locked, err := s.repo.LockGroupBuy(ctx, groupBuyID)
		if err != nil {
			return err
		}

		now := s.clock()
		if !locked.Status.IsOpenForBids() || locked.RecruitmentOver(now) {
			return model.ErrWrongStage
		}

		already, err = s.repo.AddParticipant(ctx, &model.Participant{
			GroupBuyID: locked.ID,
			UserID:     userID,
			Decision:   model.DecisionPending,
			JoinedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("add participant: %w", err)
		}

		if !already {
			locked.ParticipantCount++
			if err := s.repo.UpdateGroupBuy(ctx, locked); err != nil {
				return fmt.Errorf("update group buy: %w", err)
			}
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
	return gb, already, nil
}

// Complete переводит закупку в работе в completed. Действие доступно выбранному
// продавцу и подтвердившим покупателям; повторное завершение ничего не меняет.
func (s *Service) Complete(ctx context.Context, groupBuyID uuid.UUID, actor int64) (*model.GroupBuy, error) {
	var (
		gb     *model.GroupBuy
		events []notify.Event
	)

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		events = nil

		locked, err := s.repo.LockGroupBuy(ctx, groupBuyID)
		if err != nil {
			return err
		}
		gb = locked

		if locked.Status == model.StatusCompleted {
			return nil
		}

		ok, err := s.isCounterparty(ctx, locked, actor)
		if err != nil {
			return err
		}
		if !ok {
			return model.ErrForbidden
		}

		tr, ok := lifecycle.Complete(locked)
		if !ok {
			return model.ErrWrongStage
		}

		events, err = s.apply(ctx, locked, tr, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return gb, nil
}

// CancelGroupBuy отменяет незавершённую закупку. Отмена завершённой закупки ничего не меняет.
func (s *Service) CancelGroupBuy(ctx context.Context, groupBuyID uuid.UUID, reason model.CancelReason) (*model.GroupBuy, error) {
	var (
		gb     *model.GroupBuy
		events []notify.Event
	)

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		events = nil

		locked, err := s.repo.LockGroupBuy(ctx, groupBuyID)
		if err != nil {
			return err
		}
		gb = locked

		tr, ok := lifecycle.Cancel(locked, reason)
		if !ok {
			return nil
		}

		events, err = s.apply(ctx, locked, tr, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return gb, nil
}

// isCounterparty сообщает, является ли actor выбранным продавцом или подтвердившим покупателем.
func (s *Service) isCounterparty(ctx context.Context, gb *model.GroupBuy, actor int64) (bool, error) {
	seller, err := s.selectedSeller(ctx, gb)
	if err != nil {
		return false, err
	}
	if seller != 0 && seller == actor {
		return true, nil
	}

	participants, err := s.repo.ListParticipants(ctx, gb.ID)
	if err != nil {
		return false, err
	}
	for _, p := range participants {
		if p.UserID == actor {
			return p.Decision == model.DecisionConfirmed, nil
		}
	}
	return false, nil
}

// selectedSeller возвращает продавца выбранной ставки или 0, если победитель ещё не выбран.
func (s *Service) selectedSeller(ctx context.Context, gb *model.GroupBuy) (int64, error) {
	if gb.SelectedBidID == nil {
		return 0, nil
	}

	bid, err := s.repo.GetBid(ctx, *gb.SelectedBidID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get selected bid: %w", err)
	}
	return bid.SellerID, nil
}
