// Package visibility решает, показывать ли зрителю точную сумму ставки или маску.
package visibility

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mmeshcher/groupbuy-engine/internal/model"
)

const (
	// CurrencySuffix добавляется ко всем отображаемым суммам.
	CurrencySuffix = "원"
	// Masked одинакова для любой суммы, чтобы порядок величины нельзя было угадать.
	Masked = "***,***" + CurrencySuffix
)

var printer = message.NewPrinter(language.Korean)

// Viewer описывает того, кто смотрит список ставок.
type Viewer struct {
	UserID int64
	// Confirmed - участник закупки, подтвердивший участие.
	Confirmed bool
	// HasActiveBid - у зрителя есть действующая ставка в этой закупке.
	HasActiveBid bool
}

// Reveals сообщает, положено ли зрителю видеть точную сумму ставки.
func Reveals(bid *model.Bid, viewer Viewer, status model.GroupBuyStatus) bool {
	if viewer.UserID != 0 && viewer.UserID == bid.SellerID {
		return true
	}
	return status.IsPastBidding() && (viewer.Confirmed || viewer.HasActiveBid)
}

// VisibleAmount возвращает сумму ставки в том виде, в котором её можно показать зрителю.
func VisibleAmount(bid *model.Bid, viewer Viewer, status model.GroupBuyStatus) string {
	if Reveals(bid, viewer, status) {
		return FormatAmount(bid.Amount)
	}
	return Masked
}

// FormatAmount форматирует сумму с разделителями разрядов и суффиксом валюты.
func FormatAmount(amount decimal.Decimal) string {
	var sb strings.Builder
	if amount.IsNegative() {
		sb.WriteByte('-')
		amount = amount.Abs()
	}

	sb.WriteString(printer.Sprintf("%d", amount.IntPart()))

	if frac := amount.Sub(amount.Truncate(0)); !frac.IsZero() {
		// "0.5" -> ".5"
		sb.WriteString(strings.TrimPrefix(frac.String(), "0"))
	}

	sb.WriteString(CurrencySuffix)
	return sb.String()
}
