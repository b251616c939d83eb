// Package decision содержит правила фиксации окончательных решений покупателей и продавца.
package decision

import (
	"time"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

// StageFor возвращает статус закупки, в котором решает указанная сторона.
func StageFor(role model.Role) model.GroupBuyStatus {
	if role == model.RoleSeller {
		return model.StatusFinalSelectionSeller
	}
	return model.StatusFinalSelectionBuyers
}

// Deadline возвращает срок решения для стороны или nil, если окно ещё не открыто.
func Deadline(gb *model.GroupBuy, role model.Role) *time.Time {
	if role == model.RoleSeller {
		return gb.SellerDecisionDeadline
	}
	return gb.BuyerDecisionDeadline
}

// Check проверяет попытку записать решение requested при текущем решении current.
// Повторное решение всегда отклоняется как ErrAlreadyDecided, даже если стадия уже сменилась.
func Check(gb *model.GroupBuy, role model.Role, current, requested model.Decision, now time.Time) error {
	if !requested.Resolved() {
		return model.ErrInvalidDecision
	}
	if current.Resolved() {
		return model.ErrAlreadyDecided
	}
	if gb.Status != StageFor(role) {
		return model.ErrWrongStage
	}
	if d := Deadline(gb, role); d != nil && !now.Before(*d) {
		return model.ErrWindowClosed
	}
	return nil
}

// Snapshot строит состояние решения для отображения. Нерешённое решение
// после истечения срока показывается как неявная отмена.
func Snapshot(role model.Role, d model.Decision, decidedAt, deadline *time.Time, now time.Time) model.DecisionSnapshot {
	s := model.DecisionSnapshot{
		Role:      role,
		Decision:  d,
		DecidedAt: decidedAt,
		Deadline:  deadline,
	}

	if d == model.DecisionPending && deadline != nil && !now.Before(*deadline) {
		at := *deadline
		s.Decision = model.DecisionCancelled
		s.DecidedAt = &at
		s.Implicit = true
	}

	return s
}
