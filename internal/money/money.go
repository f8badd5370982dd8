// Package money converts payroll amounts between decimal values, integer
// cents and the Brazilian text notation used by payroll reports.
//
// All arithmetic inside the reconciliation search is done on int64 cents so
// that sums over thousands of items stay exact.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// ToCents converts a non-negative amount to integer cents using half-to-even
// rounding. Negative amounts are rejected.
func ToCents(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, errors.ValidationError(errors.CodeNegativeAmount, "amount", amount.String(), nil)
	}
	return amount.Mul(hundred).RoundBank(0).IntPart(), nil
}

// MustCents is ToCents for amounts the caller has already validated.
func MustCents(amount decimal.Decimal) int64 {
	c, err := ToCents(amount)
	if err != nil {
		panic(err)
	}
	return c
}

// SignedCents converts any amount, negative included, to cents.
func SignedCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).RoundBank(0).IntPart()
}

// FromCents converts cents back to a decimal with exactly two places.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Round2 rounds an amount to cents, half-to-even.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.RoundBank(2)
}

// ParseBRL parses amounts such as "1.234,56", "R$ 1.234,56", "1234.56",
// "(1.234,56)" or "1.234,56-". A comma is always the decimal mark; a lone dot
// followed by exactly three digits groups thousands.
func ParseBRL(s string) (decimal.Decimal, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	if s == "" {
		return decimal.Zero, errors.ValidationError(errors.CodeEmptyAmount, "amount", raw, nil)
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		negative = true
		s = s[1 : len(s)-1]
	case strings.HasSuffix(s, "-"):
		negative = true
		s = strings.TrimSuffix(s, "-")
	case strings.HasPrefix(s, "-"):
		negative = true
		s = strings.TrimPrefix(s, "-")
	}

	s = normalizeSeparators(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, "amount", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		// 1,234.56
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		// "1.234" and "1.234.567" group thousands; "1234.5" is a decimal point
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			return strings.ReplaceAll(s, ".", "")
		}
		return s
	}
	return s
}

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders an amount as "1.234,56".
func FormatBRL(amount decimal.Decimal) string {
	cents := SignedCents(amount)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + brPrinter.Sprintf("%d", cents/100) + fmt.Sprintf(",%02d", cents%100)
}
