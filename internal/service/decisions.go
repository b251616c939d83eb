package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy-engine/internal/decision"
	"github.com/mmeshcher/groupbuy-engine/internal/disclosure"
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/notify"
)

// RecordDecision фиксирует окончательное решение покупателя или выбранного продавца
// и сразу пытается продвинуть закупку.
func (s *Service) RecordDecision(ctx context.Context, groupBuyID uuid.UUID, actor int64, role model.Role, d model.Decision) (*model.GroupBuy, error) {
	var (
		gb     *model.GroupBuy
		events []notify.Event
	)

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		// транзакция может быть повторена целиком
		events = nil

		locked, err := s.repo.LockGroupBuy(ctx, groupBuyID)
		if err != nil {
			return err
		}

		current, err := s.currentDecision(ctx, locked, actor, role)
		if err != nil {
			return err
		}

		now := s.clock()
		if err := decision.Check(locked, role, current, d, now); err != nil {
			return err
		}

		switch role {
		case model.RoleSeller:
			err = s.repo.DecideSeller(ctx, locked.ID, d, now)
		default:
			err = s.repo.DecideParticipant(ctx, locked.ID, actor, d, now)
			if err == nil && d == model.DecisionConfirmed {
				locked.ConfirmedCount++
				err = s.repo.UpdateGroupBuy(ctx, locked)
			}
		}
		if err != nil {
			return err
		}

		events = append(events, notify.Event{
			Type:       notify.EventDecision,
			GroupBuyID: locked.ID,
			UserID:     actor,
			Decision:   string(d),
			At:         now,
		})

		more, err := s.advanceLocked(ctx, locked)
		if err != nil {
			return err
		}
		events = append(events, more...)

		gb = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Decision(string(role), string(d))
	s.logger.Info("decision recorded",
		zap.String("groupBuyID", groupBuyID.String()),
		zap.Int64("actor", actor),
		zap.String("role", string(role)),
		zap.String("decision", string(d)),
	)
	s.publish(ctx, events)

	return gb, nil
}

// currentDecision возвращает текущее решение актора или ErrForbidden, если он не сторона сделки.
func (s *Service) currentDecision(ctx context.Context, gb *model.GroupBuy, actor int64, role model.Role) (model.Decision, error) {
	switch role {
	case model.RoleBuyer:
		participants, err := s.repo.ListParticipants(ctx, gb.ID)
		if err != nil {
			return "", err
		}
		for _, p := range participants {
			if p.UserID == actor {
				return p.Decision, nil
			}
		}
		return "", model.ErrForbidden

	case model.RoleSeller:
		seller, err := s.selectedSeller(ctx, gb)
		if err != nil {
			return "", err
		}
		if seller == 0 || seller != actor {
			return "", model.ErrForbidden
		}

		sd, err := s.repo.GetSellerDecision(ctx, gb.ID)
		if errors.Is(err, model.ErrNotFound) {
			return model.DecisionPending, nil
		}
		if err != nil {
			return "", err
		}
		return sd.Decision, nil
	}

	return "", fmt.Errorf("%w: unknown role %q", model.ErrValidation, role)
}

// DecisionStatus возвращает состояние решения актора. Нерешённое решение после
// срока показывается как неявная отмена, даже если фоновая проверка ещё не прошла.
func (s *Service) DecisionStatus(ctx context.Context, groupBuyID uuid.UUID, actor int64) (model.DecisionSnapshot, error) {
	gb, err := s.repo.GetGroupBuy(ctx, groupBuyID)
	if err != nil {
		return model.DecisionSnapshot{}, err
	}

	now := s.clock()

	seller, err := s.selectedSeller(ctx, gb)
	if err != nil {
		return model.DecisionSnapshot{}, err
	}
	if seller != 0 && seller == actor {
		sd, err := s.repo.GetSellerDecision(ctx, gb.ID)
		if errors.Is(err, model.ErrNotFound) {
			return decision.Snapshot(model.RoleSeller, model.DecisionPending, nil, nil, now), nil
		}
		if err != nil {
			return model.DecisionSnapshot{}, err
		}
		deadline := sd.Deadline
		return decision.Snapshot(model.RoleSeller, sd.Decision, sd.DecidedAt, &deadline, now), nil
	}

	participants, err := s.repo.ListParticipants(ctx, gb.ID)
	if err != nil {
		return model.DecisionSnapshot{}, err
	}
	for _, p := range participants {
		if p.UserID == actor {
			return decision.Snapshot(model.RoleBuyer, p.Decision, p.DecidedAt, gb.BuyerDecisionDeadline, now), nil
		}
	}

	return model.DecisionSnapshot{}, model.ErrForbidden
}

// RevealContacts раскрывает контакты контрагентов, если условия раскрытия выполнены.
// При отказе возвращается *model.DeniedError с причиной.
func (s *Service) RevealContacts(ctx context.Context, groupBuyID uuid.UUID, viewer int64) (*model.ContactRecord, error) {
	gb, err := s.repo.GetGroupBuy(ctx, groupBuyID)
	if err != nil {
		return nil, err
	}

	seller, err := s.selectedSeller(ctx, gb)
	if err != nil {
		return nil, err
	}

	participants, err := s.repo.ListParticipants(ctx, gb.ID)
	if err != nil {
		return nil, err
	}

	sd, err := s.repo.GetSellerDecision(ctx, gb.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	hasBid, err := s.hasBid(ctx, gb.ID, viewer)
	if err != nil {
		return nil, err
	}

	grant, err := disclosure.Authorize(disclosure.Input{
		ViewerID:       viewer,
		SelectedSeller: seller,
		ViewerHasBid:   hasBid,
		Participants:   participants,
		SellerDecision: sd,
	})
	if err != nil {
		return nil, err
	}

	profiles, err := s.repo.GetProfiles(ctx, grant.UserIDs())
	if err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}

	return disclosure.Build(grant, profiles), nil
}
