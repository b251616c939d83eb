package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidKind определяет, как сравниваются суммы ставок.
type BidKind string

const (
	// BidKindPrice - выигрывает наименьшая цена.
	BidKindPrice BidKind = "price"
	// BidKindSupport - выигрывает наибольшая сумма поддержки.
	BidKindSupport BidKind = "support"
)

// Valid сообщает, известен ли вид ставки.
func (k BidKind) Valid() bool {
	return k == BidKindPrice || k == BidKindSupport
}

// BidStatus описывает итог ставки после закрытия торгов.
type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusSelected BidStatus = "selected"
	BidStatusRejected BidStatus = "rejected"
)

// Bid - предложение одного продавца по совместной закупке.
type Bid struct {
	ID          uuid.UUID
	GroupBuyID  uuid.UUID
	SellerID    int64
	Kind        BidKind
	Amount      decimal.Decimal
	Message     string
	Status      BidStatus
	Version     int64
	SubmittedAt time.Time
	UpdatedAt   time.Time
}
