package model

import (
	"errors"
	"fmt"
)

var (
	// ErrClosedForBidding возвращается, если закупка не принимает ставки.
	ErrClosedForBidding = errors.New("closed for bidding")
	// ErrInvalidAmount возвращается для неположительной суммы ставки.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrBidKindMismatch возвращается, если вид ставки не совпадает с видом закупки.
	ErrBidKindMismatch = errors.New("bid kind mismatch")
	// ErrForbidden возвращается, если действие выполняет не владелец.
	ErrForbidden = errors.New("forbidden")
	// ErrNotCancelable возвращается, если ставку уже нельзя отозвать.
	ErrNotCancelable = errors.New("bid is not cancelable")
	// ErrAlreadyDecided возвращается при повторном решении.
	ErrAlreadyDecided = errors.New("already decided")
	// ErrWindowClosed возвращается после истечения срока решения.
	ErrWindowClosed = errors.New("decision window closed")
	// ErrInvalidDecision возвращается, если решение не является подтверждением или отменой.
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrWrongStage возвращается, если закупка не на стадии решения этой стороны.
	ErrWrongStage = errors.New("wrong stage")
	// ErrDenied возвращается при отказе в раскрытии контактов.
	ErrDenied = errors.New("denied")

	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation error")
	// ErrNotFound возвращается, если сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict возвращается при конкурентном изменении закупки.
	ErrVersionConflict = errors.New("version conflict")
)

// DenyReason - код причины отказа в раскрытии контактов.
type DenyReason string

const (
	DenyNotConfirmed   DenyReason = "not_confirmed"
	DenyNotSeller      DenyReason = "not_seller"
	DenyBuyersPending  DenyReason = "buyers_pending"
	DenyNotParticipant DenyReason = "not_participant"
)

// DeniedError несёт причину отказа, но не сами данные.
type DeniedError struct {
	Reason DenyReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied: %s", e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// Deny создаёт ошибку отказа с указанной причиной.
func Deny(reason DenyReason) error {
	return &DeniedError{Reason: reason}
}
