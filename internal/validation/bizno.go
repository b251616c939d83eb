// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
)

var bizNoWeights = [9]int{1, 3, 7, 1, 3, 7, 1, 3, 5}

// digitsOnly оставляет в строке только цифры и сообщает, были ли в ней
// символы, кроме цифр, пробелов и дефисов.
func digitsOnly(s string) (string, bool) {
	var sb strings.Builder
	for _, ch := range s {
		switch {
		case unicode.IsDigit(ch):
			sb.WriteRune(ch)
		case ch == '-' || ch == ' ':
		default:
			return "", false
		}
	}
	return sb.String(), true
}

// IsValidBusinessNumber проверяет контрольную цифру номера регистрации бизнеса (10 цифр).
func IsValidBusinessNumber(number string) bool {
	digits, ok := digitsOnly(number)
	if !ok || len(digits) != 10 {
		return false
	}

	sum := 0
	for i, w := range bizNoWeights {
		sum += int(digits[i]-'0') * w
	}
	sum += int(digits[8]-'0') * 5 / 10

	check := (10 - sum%10) % 10
	return check == int(digits[9]-'0')
}

// FormatBusinessNumber приводит номер к виду 123-45-67890. Некорректный номер возвращается как есть.
func FormatBusinessNumber(number string) string {
	digits, ok := digitsOnly(number)
	if !ok || len(digits) != 10 {
		return number
	}
	return digits[:3] + "-" + digits[3:5] + "-" + digits[5:]
}

// NormalizePhone приводит телефон к виду 010-1234-5678 и сообщает, корректен ли он.
func NormalizePhone(phone string) (string, bool) {
	digits, ok := digitsOnly(phone)
	if !ok || len(digits) < 9 || len(digits) > 11 || digits[0] != '0' {
		return "", false
	}

	switch {
	case strings.HasPrefix(digits, "02"):
		// Сеул: 02-XXX-XXXX или 02-XXXX-XXXX
		return digits[:2] + "-" + digits[2:len(digits)-4] + "-" + digits[len(digits)-4:], true
	case len(digits) < 10:
		return "", false
	default:
		return digits[:3] + "-" + digits[3:len(digits)-4] + "-" + digits[len(digits)-4:], true
	}
}
