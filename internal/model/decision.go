package model

import (
	"time"

	"github.com/google/uuid"
)

// Decision - окончательное решение покупателя или продавца.
type Decision string

const (
	DecisionPending   Decision = "pending"
	DecisionConfirmed Decision = "confirmed"
	DecisionCancelled Decision = "cancelled"
)

// Resolved сообщает, что решение уже принято.
func (d Decision) Resolved() bool {
	return d == DecisionConfirmed || d == DecisionCancelled
}

// Role - сторона сделки, принимающая решение.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Participant - участие покупателя в совместной закупке.
type Participant struct {
	GroupBuyID uuid.UUID
	UserID     int64
	Decision   Decision
	DecidedAt  *time.Time
	JoinedAt   time.Time
}

// SellerDecision - решение выбранного продавца.
type SellerDecision struct {
	GroupBuyID uuid.UUID
	SellerID   int64
	Decision   Decision
	DecidedAt  *time.Time
	Deadline   time.Time
}

// DecisionSnapshot - состояние решения участника для отображения таймеров и кнопок.
type DecisionSnapshot struct {
	Role      Role
	Decision  Decision
	DecidedAt *time.Time
	Deadline  *time.Time
	// Implicit выставляется, когда отмена выведена из истёкшего срока, а не записана участником.
	Implicit bool
}
