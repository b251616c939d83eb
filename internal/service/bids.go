package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/groupbuy-engine/internal/auction"
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/notify"
	"github.com/mmeshcher/groupbuy-engine/internal/visibility"
)

// BidInput - данные новой или обновлённой ставки продавца.
type BidInput struct {
	GroupBuyID uuid.UUID
	SellerID   int64
	Kind       model.BidKind
	Amount     decimal.Decimal
	Message    string
}

// BidListing - ставка в публичном списке с суммой, видимой конкретному зрителю.
type BidListing struct {
	ID            uuid.UUID       `json:"id"`
	SellerID      int64           `json:"seller_id"`
	Kind          model.BidKind   `json:"kind"`
	Status        model.BidStatus `json:"status"`
	Message       string          `json:"message,omitempty"`
	DisplayAmount string          `json:"amount"`
	Rank          int             `json:"rank"`
	Mine          bool            `json:"mine"`
}

// SubmitBid создаёт ставку или перезаписывает действующую ставку продавца.
// created=false означает, что обновлена существующая ставка.
func (s *Service) SubmitBid(ctx context.Context, in BidInput) (*model.Bid, bool, error) {
	var (
		bid     *model.Bid
		created bool
	)

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		gb, err := s.repo.LockGroupBuy(ctx, in.GroupBuyID)
		if err != nil {
			return err
		}

		now := s.clock()
		if err := auction.ValidateSubmission(gb, in.Kind, in.Amount, now); err != nil {
			return err
		}

		b := &model.Bid{
			ID:          uuid.New(),
			GroupBuyID:  gb.ID,
			SellerID:    in.SellerID,
			Kind:        in.Kind,
			Amount:      in.Amount,
			Message:     in.Message,
			Status:      model.BidStatusPending,
			SubmittedAt: now,
			UpdatedAt:   now,
		}

		created, err = s.repo.UpsertBid(ctx, b)
		if err != nil {
			return fmt.Errorf("upsert bid: %w", err)
		}

		bid = b
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.metrics.Bid(created)
	s.logger.Info("bid submitted",
		zap.String("groupBuyID", in.GroupBuyID.String()),
		zap.Int64("sellerID", in.SellerID),
		zap.Bool("created", created),
	)

	return bid, created, nil
}

// CancelBid отзывает действующую ставку. Отозвать можно только свою ставку до закрытия торгов.
func (s *Service) CancelBid(ctx context.Context, bidID uuid.UUID, sellerID int64) error {
	return s.repo.RunInTx(ctx, func(ctx context.Context) error {
		bid, err := s.repo.GetBid(ctx, bidID)
		if err != nil {
			return err
		}

		gb, err := s.repo.LockGroupBuy(ctx, bid.GroupBuyID)
		if err != nil {
			return err
		}

		// ставку могли изменить, пока мы ждали блокировку
		bid, err = s.repo.GetBid(ctx, bidID)
		if err != nil {
			return err
		}

		if err := auction.CheckCancel(gb, bid, sellerID, s.clock()); err != nil {
			return err
		}

		return s.repo.DeleteBid(ctx, bidID)
	})
}

// RankBids возвращает полную книгу ставок в порядке ранжирования.
func (s *Service) RankBids(ctx context.Context, groupBuyID uuid.UUID) ([]model.Bid, error) {
	gb, err := s.repo.GetGroupBuy(ctx, groupBuyID)
	if err != nil {
		return nil, err
	}

	bids, err := s.repo.ListBids(ctx, groupBuyID)
	if err != nil {
		return nil, err
	}

	return auction.Rank(gb.BidKind, bids), nil
}

// ListBids возвращает первые ставки рейтинга с суммами, замаскированными для зрителя.
func (s *Service) ListBids(ctx context.Context, groupBuyID uuid.UUID, viewerID int64) ([]BidListing, error) {
	gb, err := s.repo.GetGroupBuy(ctx, groupBuyID)
	if err != nil {
		return nil, err
	}

	bids, err := s.repo.ListBids(ctx, groupBuyID)
	if err != nil {
		return nil, err
	}

	participants, err := s.repo.ListParticipants(ctx, groupBuyID)
	if err != nil {
		return nil, err
	}

	viewer := visibility.Viewer{UserID: viewerID}
	for _, p := range participants {
		if p.UserID == viewerID && p.Decision == model.DecisionConfirmed {
			viewer.Confirmed = true
			break
		}
	}
	for _, b := range bids {
		if b.SellerID == viewerID {
			viewer.HasActiveBid = true
			break
		}
	}

	top := auction.Top(auction.Rank(gb.BidKind, bids), auction.ListingLimit)

	listing := make([]BidListing, 0, len(top))
	for i := range top {
		b := &top[i]
		listing = append(listing, BidListing{
			ID:            b.ID,
			SellerID:      b.SellerID,
			Kind:          b.Kind,
			Status:        b.Status,
			Message:       b.Message,
			DisplayAmount: visibility.VisibleAmount(b, viewer, gb.Status),
			Rank:          i + 1,
			Mine:          viewerID != 0 && b.SellerID == viewerID,
		})
	}

	return listing, nil
}

// SelectBid выбирает победителя торгов. Повторный вызов возвращает ранее выбранную ставку.
// До закрытия торгов выбор невозможен. Если торги закрыты, но закупка ещё в bidding,
// выбор выполняется переходом жизненного цикла, а без ставок закупка отменяется.
func (s *Service) SelectBid(ctx context.Context, groupBuyID uuid.UUID) (*model.Bid, error) {
	var (
		winner *model.Bid
		events []notify.Event
	)

	err := s.repo.RunInTx(ctx, func(ctx context.Context) error {
		winner, events = nil, nil

		gb, err := s.repo.LockGroupBuy(ctx, groupBuyID)
		if err != nil {
			return err
		}

		if gb.SelectedBidID == nil {
			if gb.Status != model.StatusBidding || !gb.RecruitmentOver(s.clock()) {
				return model.ErrWrongStage
			}

			events, err = s.advanceLocked(ctx, gb)
			if err != nil {
				return err
			}
			if gb.SelectedBidID == nil {
				return nil
			}
		}

		winner, err = s.repo.GetBid(ctx, *gb.SelectedBidID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)

	if winner == nil {
		return nil, model.ErrNotFound
	}
	return winner, nil
}

// hasBid сообщает, подавал ли пользователь ставку в закупку.
func (s *Service) hasBid(ctx context.Context, groupBuyID uuid.UUID, userID int64) (bool, error) {
	bids, err := s.repo.ListBids(ctx, groupBuyID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, b := range bids {
		if b.SellerID == userID {
			return true, nil
		}
	}
	return false, nil
}
