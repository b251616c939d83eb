// Package disclosure решает, когда стороны сделки видят контакты друг друга.
//
// Покупатель видит продавца только после собственного подтверждения.
// Продавец видит покупателей только после своего подтверждения и только
// когда решили все участники: частичный список никогда не раскрывается.
package disclosure

import (
	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/validation"
)

// Input - всё, что нужно для решения о раскрытии.
type Input struct {
	ViewerID       int64
	SelectedSeller int64
	// ViewerHasBid - зритель участвовал в торгах продавцом.
	ViewerHasBid   bool
	Participants   []model.Participant
	SellerDecision *model.SellerDecision
}

// Grant перечисляет, чьи контакты можно собрать для зрителя.
type Grant struct {
	SellerID int64
	BuyerIDs []int64
}

// UserIDs возвращает всех пользователей, чьи профили нужны для сборки записи.
func (g Grant) UserIDs() []int64 {
	if g.SellerID != 0 {
		return []int64{g.SellerID}
	}
	return g.BuyerIDs
}

// Authorize проверяет условия раскрытия и возвращает *model.DeniedError при отказе.
func Authorize(in Input) (Grant, error) {
	if in.SelectedSeller != 0 && in.ViewerID == in.SelectedSeller {
		return authorizeSeller(in)
	}

	for _, p := range in.Participants {
		if p.UserID != in.ViewerID {
			continue
		}
		if p.Decision != model.DecisionConfirmed || in.SelectedSeller == 0 {
			return Grant{}, model.Deny(model.DenyNotConfirmed)
		}
		return Grant{SellerID: in.SelectedSeller}, nil
	}

	if in.ViewerHasBid {
		return Grant{}, model.Deny(model.DenyNotSeller)
	}
	return Grant{}, model.Deny(model.DenyNotParticipant)
}

func authorizeSeller(in Input) (Grant, error) {
	if in.SellerDecision == nil || in.SellerDecision.Decision != model.DecisionConfirmed {
		return Grant{}, model.Deny(model.DenyNotConfirmed)
	}

	buyers := make([]int64, 0, len(in.Participants))
	for _, p := range in.Participants {
		switch p.Decision {
		case model.DecisionPending:
			return Grant{}, model.Deny(model.DenyBuyersPending)
		case model.DecisionConfirmed:
			buyers = append(buyers, p.UserID)
		}
	}

	return Grant{BuyerIDs: buyers}, nil
}

// Build собирает запись контактов по разрешению и профилям.
// Отсутствующий профиль даёт запись только с идентификатором.
func Build(g Grant, profiles map[int64]model.Profile) *model.ContactRecord {
	if g.SellerID != 0 {
		p := profiles[g.SellerID]
		return &model.ContactRecord{
			Seller: &model.SellerContact{
				SellerID:       g.SellerID,
				Name:           p.Name,
				Phone:          p.Phone,
				BusinessName:   p.BusinessName,
				BusinessNumber: validation.FormatBusinessNumber(p.BusinessNumber),
				Address:        p.Address,
			},
		}
	}

	rec := &model.ContactRecord{Buyers: make([]model.BuyerContact, 0, len(g.BuyerIDs))}
	for _, id := range g.BuyerIDs {
		p := profiles[id]
		rec.Buyers = append(rec.Buyers, model.BuyerContact{
			UserID:  id,
			Name:    p.Name,
			Phone:   p.Phone,
			Address: p.Address,
		})
	}
	return rec
}
