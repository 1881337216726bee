package order

import (
	"strconv"
	"strings"
	"time"
)

// Card holds the card details submitted with a card payment. They are checked
// for shape only and never persisted.
type Card struct {
	Number string
	Expiry string // MM/YY
	CVV    string
}

// Payment is the payment part of a checkout submission.
type Payment struct {
	Method PaymentMethod
	Card   *Card
}

// Validate checks the method and, for card payments, the card fields. Cards
// are valid through the last day of their expiry month.
func (p Payment) Validate(now time.Time) error {
	fields := make(map[string]string)

	switch {
	case !p.Method.Valid():
		fields["payment_method"] = "unknown payment method"
	case p.Method == PaymentCard:
		validateCard(p.Card, now, fields)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validateCard(c *Card, now time.Time, fields map[string]string) {
	if c == nil {
		c = &Card{}
	}

	number := strings.ReplaceAll(c.Number, " ", "")
	if !isDigits(number) || (len(number) != 16 && len(number) != 19) {
		fields["card_number"] = "invalid card number"
	}

	if !isDigits(c.CVV) || (len(c.CVV) != 3 && len(c.CVV) != 4) {
		fields["card_cvv"] = "invalid CVV"
	}

	month, year, ok := parseExpiry(c.Expiry)
	switch {
	case !ok:
		fields["card_expiry"] = "expiry must be MM/YY"
	case expired(month, year, now):
		fields["card_expiry"] = "card expired"
	}
}

func parseExpiry(s string) (month, year int, ok bool) {
	mm, yy, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found || len(mm) != 2 || len(yy) != 2 || !isDigits(mm) || !isDigits(yy) {
		return 0, 0, false
	}
	month, _ = strconv.Atoi(mm)
	year, _ = strconv.Atoi(yy)
	if month < 1 || month > 12 {
		return 0, 0, false
	}
	return month, 2000 + year, true
}

func expired(month, year int, now time.Time) bool {
	firstOfNext := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.UTC().Before(firstOfNext)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
