// Package auction реализует правила книги ставок: проверку, ранжирование и выбор победителя.
package auction

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

// ListingLimit ограничивает число ставок во внешних списках.
const ListingLimit = 10

// AmountScale - число знаков после запятой, которое хранится для суммы ставки.
const AmountScale = 2

// maxAmount - первая сумма, не помещающаяся в NUMERIC(18,2).
var maxAmount = decimal.New(1, 18-AmountScale)

// ValidateSubmission проверяет, можно ли подать ставку в закупку на момент now.
func ValidateSubmission(gb *model.GroupBuy, kind model.BidKind, amount decimal.Decimal, now time.Time) error {
	if !gb.Status.IsOpenForBids() || gb.RecruitmentOver(now) {
		return model.ErrClosedForBidding
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(AmountScale)) || amount.GreaterThanOrEqual(maxAmount) {
		return model.ErrInvalidAmount
	}
	if kind != gb.BidKind {
		return model.ErrBidKindMismatch
	}
	return nil
}

// CheckCancel проверяет, может ли продавец отозвать ставку.
func CheckCancel(gb *model.GroupBuy, bid *model.Bid, sellerID int64, now time.Time) error {
	if bid.SellerID != sellerID {
		return model.ErrForbidden
	}
	if bid.Status != model.BidStatusPending {
		return model.ErrNotCancelable
	}
	if !gb.Status.IsOpenForBids() || gb.RecruitmentOver(now) {
		return model.ErrNotCancelable
	}
	return nil
}

// Less задаёт полный порядок ставок одного вида: сумма по правилу вида,
// затем более ранняя подача, затем идентификатор.
func Less(kind model.BidKind, a, b *model.Bid) bool {
	if c := a.Amount.Cmp(b.Amount); c != 0 {
		if kind == model.BidKindSupport {
			return c > 0
		}
		return c < 0
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Rank возвращает ставки вида kind в порядке от лучшей к худшей.
// Ставки другого вида в ранжирование не попадают.
func Rank(kind model.BidKind, bids []model.Bid) []model.Bid {
	ranked := make([]model.Bid, 0, len(bids))
	for _, b := range bids {
		if b.Kind == kind {
			ranked = append(ranked, b)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		return Less(kind, &ranked[i], &ranked[j])
	})

	return ranked
}

// Top обрезает ранжированный список до n позиций.
func Top(ranked []model.Bid, n int) []model.Bid {
	if len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

// Selection - результат выбора победителя.
type Selection struct {
	Winner   *model.Bid
	Rejected []model.Bid
}

// Select выбирает ставку номер один. Если победитель уже выбран ранее
// (selected задан), возвращается он без повторного ранжирования.
func Select(kind model.BidKind, bids []model.Bid, selected *model.Bid) Selection {
	if selected != nil {
		return Selection{Winner: selected}
	}

	ranked := Rank(kind, bids)
	if len(ranked) == 0 {
		return Selection{}
	}

	winner := ranked[0]
	winner.Status = model.BidStatusSelected

	rejected := make([]model.Bid, 0, len(ranked)-1)
	for _, b := range ranked[1:] {
		b.Status = model.BidStatusRejected
		rejected = append(rejected, b)
	}

	return Selection{Winner: &winner, Rejected: rejected}
}
