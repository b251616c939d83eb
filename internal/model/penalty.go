package model

import (
	"time"

	"github.com/google/uuid"
)

// PenaltyReason - код причины штрафа.
type PenaltyReason string

const (
	PenaltySellerCancelled PenaltyReason = "seller_cancelled"
	PenaltySellerTimeout   PenaltyReason = "seller_timeout"
)

// PenaltyRecord - штраф продавцу за отказ после выбора. Не изменяется после создания.
type PenaltyRecord struct {
	ID         uuid.UUID
	SellerID   int64
	GroupBuyID uuid.UUID
	Points     int
	Reason     PenaltyReason
	CreatedAt  time.Time
}
