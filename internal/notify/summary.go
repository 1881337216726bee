package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/order"
)

// Currency is appended to every amount in human-readable summaries.
const Currency = "UAH"

// Summary is the channel-independent description of a placed order.
type Summary struct {
	OrderID        int64
	CreatedAt      time.Time
	Status         order.Status
	PaymentMethod  order.PaymentMethod
	DeliveryMethod order.DeliveryMethod
	BuyerID        int64
	Buyer          string
	Delivery       order.Delivery
	Lines          []SummaryLine
	Total          decimal.Decimal
}

// SummaryLine is one item of a Summary.
type SummaryLine struct {
	ProductID string
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// NewSummary captures o for notification.
func NewSummary(o *order.Order) Summary {
	lines := make([]SummaryLine, len(o.Items))
	for i, item := range o.Items {
		lines[i] = SummaryLine{
			ProductID: item.ProductID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal(),
		}
	}
	return Summary{
		OrderID:        o.ID,
		CreatedAt:      o.CreatedAt,
		Status:         o.Status,
		PaymentMethod:  o.PaymentMethod,
		DeliveryMethod: o.Delivery.Method,
		BuyerID:        o.BuyerID,
		Buyer:          o.BuyerUsername,
		Delivery:       o.Delivery,
		Lines:          lines,
		Total:          o.Total,
	}
}

// Subject is a one-line title for the order.
func (s Summary) Subject() string {
	return "New order #" + strconv.FormatInt(s.OrderID, 10)
}

// PlainText renders the summary for email.
func (s Summary) PlainText() string {
	var b strings.Builder
	d := s.Delivery

	fmt.Fprintf(&b, "New order #%d\n", s.OrderID)
	fmt.Fprintf(&b, "Status: %s\n", s.Status.Label())
	fmt.Fprintf(&b, "Payment method: %s\n", s.PaymentMethod.Label())
	fmt.Fprintf(&b, "Delivery method: %s\n", deliveryLabel(s.DeliveryMethod))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Buyer: %s\n", s.Buyer)
	fmt.Fprintf(&b, "Recipient: %s\n", d.FullName)
	fmt.Fprintf(&b, "Phone: %s\n", d.Phone)
	fmt.Fprintf(&b, "Address: %s, %s, %s\n", d.Address, d.City, d.PostalCode)
	fmt.Fprintf(&b, "Department: %s\n", orDash(d.Department))
	b.WriteString("\nItems:\n")
	for _, l := range s.Lines {
		fmt.Fprintf(&b, "- %s x %d = %s\n", l.Title, l.Quantity, money(l.Subtotal))
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", money(s.Total))
	if d.Comment != "" {
		fmt.Fprintf(&b, "\nBuyer comment: %s\n", d.Comment)
	}
	return b.String()
}

// HTML renders the summary with the small HTML subset chat clients accept.
// Every user-supplied value is escaped.
func (s Summary) HTML() string {
	var b strings.Builder
	d := s.Delivery
	esc := html.EscapeString

	fmt.Fprintf(&b, "<b>New order #%d</b>\n", s.OrderID)
	fmt.Fprintf(&b, "Status: <b>%s</b>\n", esc(s.Status.Label()))
	fmt.Fprintf(&b, "Payment: %s\n", esc(s.PaymentMethod.Label()))
	fmt.Fprintf(&b, "Delivery: %s\n", esc(deliveryLabel(s.DeliveryMethod)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Buyer: %s\n", esc(s.Buyer))
	fmt.Fprintf(&b, "Recipient: %s, %s\n", esc(d.FullName), esc(d.Phone))
	fmt.Fprintf(&b, "Address: %s, %s, %s\n", esc(d.Address), esc(d.City), esc(d.PostalCode))
	fmt.Fprintf(&b, "Department: %s\n", esc(orDash(d.Department)))
	b.WriteString("\n<b>Items:</b>\n")
	for _, l := range s.Lines {
		fmt.Fprintf(&b, "• %s × %d = %s\n", esc(l.Title), l.Quantity, money(l.Subtotal))
	}
	fmt.Fprintf(&b, "\n<b>Total: %s</b>", money(s.Total))
	if d.Comment != "" {
		fmt.Fprintf(&b, "\n\n<i>%s</i>", esc(d.Comment))
	}
	return b.String()
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2) + " " + Currency
}

func deliveryLabel(m order.DeliveryMethod) string {
	if m == "" {
		return "-"
	}
	return m.Label()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
