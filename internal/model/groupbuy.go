// Package model содержит доменные сущности движка совместных закупок.
package model

import (
	"time"

	"github.com/google/uuid"
)

// GroupBuyStatus описывает стадию жизненного цикла совместной закупки.
type GroupBuyStatus string

const (
	StatusRecruiting           GroupBuyStatus = "recruiting"
	StatusBidding              GroupBuyStatus = "bidding"
	StatusFinalSelectionBuyers GroupBuyStatus = "final_selection_buyers"
	StatusFinalSelectionSeller GroupBuyStatus = "final_selection_seller"
	StatusInProgress           GroupBuyStatus = "in_progress"
	StatusCompleted            GroupBuyStatus = "completed"
	StatusCancelled            GroupBuyStatus = "cancelled"
)

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s GroupBuyStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsOpenForBids сообщает, принимаются ли ставки в этом статусе.
func (s GroupBuyStatus) IsOpenForBids() bool {
	return s == StatusRecruiting || s == StatusBidding
}

// IsPastBidding сообщает, что торги завершены и победитель выбран.
func (s GroupBuyStatus) IsPastBidding() bool {
	switch s {
	case StatusFinalSelectionBuyers, StatusFinalSelectionSeller, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// CancelReason объясняет, почему закупка была отменена.
type CancelReason string

const (
	ReasonNone                  CancelReason = ""
	ReasonAllBuyersWithdrew     CancelReason = "all_buyers_withdrew"
	ReasonSellerWithdrew        CancelReason = "seller_withdrew"
	ReasonSellerTimeout         CancelReason = "seller_timeout"
	ReasonNoBids                CancelReason = "no_bids"
	ReasonNotEnoughParticipants CancelReason = "not_enough_participants"
	ReasonAdministrative        CancelReason = "administrative"
)

// GroupBuy описывает одну совместную закупку.
type GroupBuy struct {
	ID                     uuid.UUID
	Title                  string
	Status                 GroupBuyStatus
	BidKind                BidKind
	MinParticipants        int
	RecruitmentEndsAt      time.Time
	BuyerDecisionDeadline  *time.Time
	SellerDecisionDeadline *time.Time
	ParticipantCount       int
	ConfirmedCount         int
	SelectedBidID          *uuid.UUID
	CancelReason           CancelReason
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// RecruitmentOver сообщает, истёк ли срок набора участников на момент now.
func (g *GroupBuy) RecruitmentOver(now time.Time) bool {
	return !now.Before(g.RecruitmentEndsAt)
}
