package auction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newBid(seller int64, kind model.BidKind, amount int64, offset time.Duration) model.Bid {
	return model.Bid{
		ID:          uuid.New(),
		SellerID:    seller,
		Kind:        kind,
		Amount:      decimal.NewFromInt(amount),
		Status:      model.BidStatusPending,
		SubmittedAt: base.Add(offset),
	}
}

func TestValidateSubmission(t *testing.T) {
	open := &model.GroupBuy{
		Status:            model.StatusBidding,
		BidKind:           model.BidKindPrice,
		RecruitmentEndsAt: base.Add(time.Hour),
	}

	tests := []struct {
		name   string
		gb     *model.GroupBuy
		kind   model.BidKind
		amount decimal.Decimal
		now    time.Time
		want   error
	}{
		{
			name:   "accepted while bidding",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.NewFromInt(1000),
			now:    base,
		},
		{
			name: "accepted while recruiting",
			gb: &model.GroupBuy{
				Status:            model.StatusRecruiting,
				BidKind:           model.BidKindPrice,
				RecruitmentEndsAt: base.Add(time.Hour),
			},
			kind:   model.BidKindPrice,
			amount: decimal.NewFromInt(1000),
			now:    base,
		},
		{
			name:   "zero amount",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.Zero,
			now:    base,
			want:   model.ErrInvalidAmount,
		},
		{
			name:   "negative amount",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.NewFromInt(-5),
			now:    base,
			want:   model.ErrInvalidAmount,
		},
		{
			name:   "two decimal places",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.RequireFromString("1000.50"),
			now:    base,
		},
		{
			name:   "trailing zero beyond scale",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.RequireFromString("1000.500"),
			now:    base,
		},
		{
			name:   "below storable precision",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.RequireFromString("0.001"),
			now:    base,
			want:   model.ErrInvalidAmount,
		},
		{
			name:   "three decimal places",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.RequireFromString("1000.004"),
			now:    base,
			want:   model.ErrInvalidAmount,
		},
		{
			name:   "exceeds storable range",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.RequireFromString("10000000000000000"),
			now:    base,
			want:   model.ErrInvalidAmount,
		},
		{
			name:   "end time passed",
			gb:     open,
			kind:   model.BidKindPrice,
			amount: decimal.NewFromInt(1000),
			now:    base.Add(time.Hour),
			want:   model.ErrClosedForBidding,
		},
		{
			name: "final selection stage",
			gb: &model.GroupBuy{
				Status:            model.StatusFinalSelectionBuyers,
				BidKind:           model.BidKindPrice,
				RecruitmentEndsAt: base.Add(time.Hour),
			},
			kind:   model.BidKindPrice,
			amount: decimal.NewFromInt(1000),
			now:    base,
			want:   model.ErrClosedForBidding,
		},
		{
			name:   "kind mismatch",
			gb:     open,
			kind:   model.BidKindSupport,
			amount: decimal.NewFromInt(1000),
			now:    base,
			want:   model.ErrBidKindMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubmission(tt.gb, tt.kind, tt.amount, tt.now)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckCancel(t *testing.T) {
	gb := &model.GroupBuy{Status: model.StatusBidding, RecruitmentEndsAt: base.Add(time.Hour)}
	bid := newBid(7, model.BidKindPrice, 100, 0)

	assert.NoError(t, CheckCancel(gb, &bid, 7, base))
	assert.ErrorIs(t, CheckCancel(gb, &bid, 8, base), model.ErrForbidden)
	assert.ErrorIs(t, CheckCancel(gb, &bid, 7, base.Add(2*time.Hour)), model.ErrNotCancelable)

	selected := bid
	selected.Status = model.BidStatusSelected
	assert.ErrorIs(t, CheckCancel(gb, &selected, 7, base), model.ErrNotCancelable)

	closed := *gb
	closed.Status = model.StatusFinalSelectionBuyers
	assert.ErrorIs(t, CheckCancel(&closed, &bid, 7, base), model.ErrNotCancelable)
}

func TestRank_PriceAscending(t *testing.T) {
	bids := []model.Bid{
		newBid(1, model.BidKindPrice, 300, 0),
		newBid(2, model.BidKindPrice, 100, time.Minute),
		newBid(3, model.BidKindPrice, 200, 2*time.Minute),
	}

	ranked := Rank(model.BidKindPrice, bids)

	require.Len(t, ranked, 3)
	assert.Equal(t, int64(2), ranked[0].SellerID)
	assert.Equal(t, int64(3), ranked[1].SellerID)
	assert.Equal(t, int64(1), ranked[2].SellerID)
}

func TestRank_SupportDescending(t *testing.T) {
	bids := []model.Bid{
		newBid(1, model.BidKindSupport, 100000, 0),
		newBid(2, model.BidKindSupport, 150000, time.Minute),
		newBid(3, model.BidKindSupport, 120000, 2*time.Minute),
	}

	ranked := Rank(model.BidKindSupport, bids)

	require.Len(t, ranked, 3)
	assert.Equal(t, int64(2), ranked[0].SellerID)
	assert.Equal(t, int64(3), ranked[1].SellerID)
	assert.Equal(t, int64(1), ranked[2].SellerID)
}

func TestRank_TieBrokenBySubmissionTime(t *testing.T) {
	bids := []model.Bid{
		newBid(1, model.BidKindPrice, 500, 5*time.Minute),
		newBid(2, model.BidKindPrice, 500, time.Minute),
		newBid(3, model.BidKindPrice, 500, 3*time.Minute),
	}

	ranked := Rank(model.BidKindPrice, bids)

	assert.Equal(t, []int64{2, 3, 1}, sellers(ranked))
}

func TestRank_IgnoresOtherKinds(t *testing.T) {
	bids := []model.Bid{
		newBid(1, model.BidKindPrice, 500, 0),
		newBid(2, model.BidKindSupport, 1, 0),
	}

	ranked := Rank(model.BidKindPrice, bids)

	assert.Equal(t, []int64{1}, sellers(ranked))
}

func TestRank_IsStableAcrossInputOrder(t *testing.T) {
	bids := []model.Bid{
		newBid(1, model.BidKindPrice, 500, 0),
		newBid(2, model.BidKindPrice, 400, 0),
		newBid(3, model.BidKindPrice, 500, 0),
		newBid(4, model.BidKindPrice, 600, time.Second),
	}
	reversed := make([]model.Bid, len(bids))
	for i := range bids {
		reversed[len(bids)-1-i] = bids[i]
	}

	assert.Equal(t, sellers(Rank(model.BidKindPrice, bids)), sellers(Rank(model.BidKindPrice, reversed)))
}

func TestTop(t *testing.T) {
	var bids []model.Bid
	for i := 0; i < 15; i++ {
		bids = append(bids, newBid(int64(i+1), model.BidKindPrice, int64(1000+i), 0))
	}

	top := Top(Rank(model.BidKindPrice, bids), ListingLimit)

	require.Len(t, top, ListingLimit)
	assert.Equal(t, int64(1), top[0].SellerID)
	assert.Len(t, Top(bids[:3], ListingLimit), 3)
}

func TestSelect(t *testing.T) {
	bids := []model.Bid{
		newBid(1, model.BidKindSupport, 100000, 0),
		newBid(2, model.BidKindSupport, 150000, time.Minute),
		newBid(3, model.BidKindSupport, 120000, 2*time.Minute),
	}

	sel := Select(model.BidKindSupport, bids, nil)

	require.NotNil(t, sel.Winner)
	assert.Equal(t, int64(2), sel.Winner.SellerID)
	assert.Equal(t, model.BidStatusSelected, sel.Winner.Status)
	require.Len(t, sel.Rejected, 2)
	for _, b := range sel.Rejected {
		assert.Equal(t, model.BidStatusRejected, b.Status)
	}

	again := Select(model.BidKindSupport, append(bids, newBid(9, model.BidKindSupport, 999999, 0)), sel.Winner)
	assert.Equal(t, sel.Winner.ID, again.Winner.ID)
	assert.Empty(t, again.Rejected)
}

func TestSelect_NoBids(t *testing.T) {
	sel := Select(model.BidKindPrice, nil, nil)
	assert.Nil(t, sel.Winner)
}

func sellers(bids []model.Bid) []int64 {
	res := make([]int64, 0, len(bids))
	for _, b := range bids {
		res = append(res, b.SellerID)
	}
	return res
}
