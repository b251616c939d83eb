// Package lifecycle описывает конечный автомат совместной закупки.
//
// Автомат чистый: по снимку состояния и текущему времени он вычисляет
// следующий переход, а применяет его сервисный слой внутри транзакции.
// Если условие перехода не выполнено, переход просто не возвращается,
// поэтому повторные и конкурентные попытки безопасны.
package lifecycle

import (
	"time"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

// State - снимок закупки, достаточный для вычисления перехода.
type State struct {
	GroupBuy       *model.GroupBuy
	Participants   []model.Participant
	SellerDecision *model.SellerDecision
	BidCount       int
}

// Transition описывает один шаг автомата и побочные действия, которые нужно применить.
type Transition struct {
	From   model.GroupBuyStatus
	To     model.GroupBuyStatus
	Reason model.CancelReason

	// SelectWinner - выбрать ставку номер один при закрытии торгов.
	SelectWinner bool
	// ExpireBuyers - покупатели, чьё решение считается отменой по истечении срока.
	ExpireBuyers []int64
	// ExpireSeller - решение продавца считается отменой по истечении срока.
	ExpireSeller bool

	BuyerDeadline  *time.Time
	SellerDeadline *time.Time

	// Confirmed - число подтвердивших покупателей после разрешения всех решений.
	Confirmed int
}

// SellerWithdrew сообщает, что переход вызван отказом или молчанием выбранного продавца.
func (t Transition) SellerWithdrew() bool {
	return t.To == model.StatusCancelled &&
		(t.Reason == model.ReasonSellerWithdrew || t.Reason == model.ReasonSellerTimeout)
}

// Machine вычисляет переходы с заданными окнами принятия решений.
type Machine struct {
	BuyerWindow  time.Duration
	SellerWindow time.Duration
}

// New создаёт автомат с окнами решений покупателей и продавца.
func New(buyerWindow, sellerWindow time.Duration) Machine {
	return Machine{BuyerWindow: buyerWindow, SellerWindow: sellerWindow}
}

// Next возвращает следующий применимый переход или false, если переходить некуда.
func (m Machine) Next(s State, now time.Time) (Transition, bool) {
	gb := s.GroupBuy
	t := Transition{From: gb.Status}

	switch gb.Status {
	case model.StatusRecruiting:
		if gb.ParticipantCount >= gb.MinParticipants {
			t.To = model.StatusBidding
			return t, true
		}
		if gb.RecruitmentOver(now) {
			t.To = model.StatusCancelled
			t.Reason = model.ReasonNotEnoughParticipants
			return t, true
		}

	case model.StatusBidding:
		if !gb.RecruitmentOver(now) {
			return t, false
		}
		if s.BidCount == 0 {
			t.To = model.StatusCancelled
			t.Reason = model.ReasonNoBids
			return t, true
		}
		deadline := now.Add(m.BuyerWindow)
		t.To = model.StatusFinalSelectionBuyers
		t.SelectWinner = true
		t.BuyerDeadline = &deadline
		return t, true

	case model.StatusFinalSelectionBuyers:
		return m.resolveBuyers(s, now)

	case model.StatusFinalSelectionSeller:
		return m.resolveSeller(s, now)
	}

	return t, false
}

func (m Machine) resolveBuyers(s State, now time.Time) (Transition, bool) {
	gb := s.GroupBuy
	t := Transition{From: gb.Status}

	expired := gb.BuyerDecisionDeadline != nil && !now.Before(*gb.BuyerDecisionDeadline)

	for _, p := range s.Participants {
		switch p.Decision {
		case model.DecisionConfirmed:
			t.Confirmed++
		case model.DecisionPending:
			if !expired {
				return t, false
			}
			t.ExpireBuyers = append(t.ExpireBuyers, p.UserID)
		}
	}

	if t.Confirmed == 0 {
		t.To = model.StatusCancelled
		t.Reason = model.ReasonAllBuyersWithdrew
		return t, true
	}

	deadline := now.Add(m.SellerWindow)
	t.To = model.StatusFinalSelectionSeller
	t.SellerDeadline = &deadline
	return t, true
}

func (m Machine) resolveSeller(s State, now time.Time) (Transition, bool) {
	gb := s.GroupBuy
	t := Transition{From: gb.Status, Confirmed: gb.ConfirmedCount}

	decision := model.DecisionPending
	if s.SellerDecision != nil {
		decision = s.SellerDecision.Decision
	}

	switch decision {
	case model.DecisionConfirmed:
		t.To = model.StatusInProgress
		return t, true
	case model.DecisionCancelled:
		t.To = model.StatusCancelled
		t.Reason = model.ReasonSellerWithdrew
		return t, true
	}

	if gb.SellerDecisionDeadline != nil && !now.Before(*gb.SellerDecisionDeadline) {
		t.To = model.StatusCancelled
		t.Reason = model.ReasonSellerTimeout
		t.ExpireSeller = true
		return t, true
	}

	return t, false
}

// Complete возвращает переход в completed для закупки в работе.
func Complete(gb *model.GroupBuy) (Transition, bool) {
	if gb.Status != model.StatusInProgress {
		return Transition{From: gb.Status}, false
	}
	return Transition{From: gb.Status, To: model.StatusCompleted, Confirmed: gb.ConfirmedCount}, true
}

// Cancel возвращает явную отмену из любого нетерминального состояния.
func Cancel(gb *model.GroupBuy, reason model.CancelReason) (Transition, bool) {
	if gb.Status.IsTerminal() {
		return Transition{From: gb.Status}, false
	}
	if reason == model.ReasonNone {
		reason = model.ReasonAdministrative
	}
	return Transition{From: gb.Status, To: model.StatusCancelled, Reason: reason}, true
}
