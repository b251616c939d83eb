// Package penalty начисляет штраф выбранному продавцу за отказ от сделки.
package penalty

import (
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

// Engine хранит политику штрафов.
type Engine struct {
	points int
}

// New создаёт движок, начисляющий points баллов за каждый отказ.
func New(points int) *Engine {
	return &Engine{points: points}
}

// Evaluate возвращает штраф, если продавец отказался при двух и более
// подтвердивших покупателях. Один покупатель считается несущественным ущербом.
func (e *Engine) Evaluate(gb *model.GroupBuy, sd *model.SellerDecision, confirmed int, reason model.PenaltyReason, now time.Time) *model.PenaltyRecord {
	if sd == nil || sd.Decision != model.DecisionCancelled {
		return nil
	}
	if confirmed <= 1 {
		return nil
	}

	return &model.PenaltyRecord{
		ID:         uuid.New(),
		SellerID:   sd.SellerID,
		GroupBuyID: gb.ID,
		Points:     e.points,
		Reason:     reason,
		CreatedAt:  now,
	}
}
