package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/order"
)

// Amounts are encoded as strings with two decimals so that no precision is
// lost in clients parsing JSON numbers as floats.
func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		})
	})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	writeJSON(w, http.StatusBadRequest, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusBadRequest) })
			e.Field("message", func(e *jx.Encoder) { e.Str("validation failed") })
			e.Field("fields", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					for _, name := range names {
						e.Field(name, func(e *jx.Encoder) { e.Str(fields[name]) })
					}
				})
			})
		})
	})
}

func encodeCartView(e *jx.Encoder, v *cart.View) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range v.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						if l.Missing {
							e.Field("missing", func(e *jx.Encoder) { e.Bool(true) })
							return
						}
						e.Field("title", func(e *jx.Encoder) { e.Str(l.Title) })
						e.Field("unit_price", func(e *jx.Encoder) { encodeMoney(e, l.UnitPrice) })
						e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, v.Total) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	d := o.Delivery
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("status_label", func(e *jx.Encoder) { e.Str(o.Status.Label()) })
		e.Field("buyer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Int64(o.BuyerID) })
				e.Field("username", func(e *jx.Encoder) { e.Str(o.BuyerUsername) })
			})
		})
		e.Field("delivery", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("full_name", func(e *jx.Encoder) { e.Str(d.FullName) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(d.Phone) })
				e.Field("address", func(e *jx.Encoder) { e.Str(d.Address) })
				e.Field("city", func(e *jx.Encoder) { e.Str(d.City) })
				e.Field("postal_code", func(e *jx.Encoder) { e.Str(d.PostalCode) })
				e.Field("method", func(e *jx.Encoder) { e.Str(string(d.Method)) })
				e.Field("method_label", func(e *jx.Encoder) { e.Str(d.Method.Label()) })
				e.Field("department", func(e *jx.Encoder) { e.Str(d.Department) })
				e.Field("comment", func(e *jx.Encoder) { e.Str(d.Comment) })
			})
		})
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
		e.Field("payment_label", func(e *jx.Encoder) { e.Str(o.PaymentMethod.Label()) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, item := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(item.ProductID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(item.Title) })
						e.Field("unit_price", func(e *jx.Encoder) { encodeMoney(e, item.UnitPrice) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(item.Quantity) })
						e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, item.Subtotal()) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
	})
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orders", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range orders {
					encodeOrder(e, &orders[i])
				}
			})
		})
	})
}
