package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
	"github.com/mmeshcher/groupbuy-engine/internal/validation"
)

// UpsertProfile сохраняет контактные данные пользователя. Телефон нормализуется,
// номер регистрации бизнеса хранится только цифрами.
func (s *Service) UpsertProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	if p.UserID == 0 {
		return p, fmt.Errorf("%w: user is required", model.ErrValidation)
	}

	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return p, fmt.Errorf("%w: empty name", model.ErrValidation)
	}

	phone, ok := validation.NormalizePhone(p.Phone)
	if !ok {
		return p, fmt.Errorf("%w: invalid phone number", model.ErrValidation)
	}
	p.Phone = phone

	if p.BusinessNumber != "" {
		if !validation.IsValidBusinessNumber(p.BusinessNumber) {
			return p, fmt.Errorf("%w: invalid business registration number", model.ErrValidation)
		}
		p.BusinessNumber = strings.ReplaceAll(p.BusinessNumber, "-", "")
	}

	p.Address = strings.TrimSpace(p.Address)
	p.BusinessName = strings.TrimSpace(p.BusinessName)

	if err := s.repo.UpsertProfile(ctx, p); err != nil {
		return p, fmt.Errorf("upsert profile: %w", err)
	}
	return p, nil
}

// ListPenalties возвращает штрафы продавца, новые первыми.
func (s *Service) ListPenalties(ctx context.Context, sellerID int64) ([]model.PenaltyRecord, error) {
	return s.repo.ListPenaltiesBySeller(ctx, sellerID)
}
