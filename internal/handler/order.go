package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/order"
)

// HeaderIdempotencyKey makes checkout retries safe.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// checkoutRequest is the checkout form. Card fields are only inspected for
// card payments.
type checkoutRequest struct {
	FullName       string `json:"full_name" validate:"required,max=255"`
	Phone          string `json:"phone" validate:"required,max=20"`
	Address        string `json:"address" validate:"required,max=255"`
	City           string `json:"city" validate:"required,max=100"`
	PostalCode     string `json:"postal_code" validate:"required,max=20"`
	DeliveryMethod string `json:"delivery_method" validate:"required,oneof=nova_poshta ukr_poshta courier"`
	Department     string `json:"department" validate:"max=100"`
	Comment        string `json:"comment" validate:"max=2000"`
	PaymentMethod  string `json:"payment_method"`
	CardNumber     string `json:"card_number"`
	CardExpiry     string `json:"card_expiry"`
	CardCVV        string `json:"card_cvv"`
}

func decodeCheckout(data []byte) (checkoutRequest, error) {
	var req checkoutRequest
	err := decodeStringFields(data, map[string]*string{
		"full_name":       &req.FullName,
		"phone":           &req.Phone,
		"address":         &req.Address,
		"city":            &req.City,
		"postal_code":     &req.PostalCode,
		"delivery_method": &req.DeliveryMethod,
		"department":      &req.Department,
		"comment":         &req.Comment,
		"payment_method":  &req.PaymentMethod,
		"card_number":     &req.CardNumber,
		"card_expiry":     &req.CardExpiry,
		"card_cvv":        &req.CardCVV,
	})
	return req, err
}

func (c checkoutRequest) delivery() order.Delivery {
	return order.Delivery{
		FullName:   c.FullName,
		Phone:      c.Phone,
		Address:    c.Address,
		City:       c.City,
		PostalCode: c.PostalCode,
		Method:     order.DeliveryMethod(c.DeliveryMethod),
		Department: c.Department,
		Comment:    c.Comment,
	}
}

func (c checkoutRequest) payment() order.Payment {
	p := order.Payment{Method: order.PaymentMethod(c.PaymentMethod)}
	if p.Method == order.PaymentCard {
		p.Card = &order.Card{Number: c.CardNumber, Expiry: c.CardExpiry, CVV: c.CardCVV}
	}
	return p
}

// validateCheckout collects every field error of the form, delivery and
// payment alike, so the buyer can fix them in one round.
func (h *Handler) validateCheckout(req checkoutRequest) map[string]string {
	fields := make(map[string]string)

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			fields["_"] = err.Error()
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
	}

	if err := req.payment().Validate(h.now()); err != nil {
		var vErr *order.ValidationError
		if errors.As(err, &vErr) {
			for k, v := range vErr.Fields {
				fields[k] = v
			}
		}
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

// PlaceOrder checks out the session cart for the authenticated buyer.
// A repeated Idempotency-Key returns the existing order with 200.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := readBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	req, err := decodeCheckout(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	fields := h.validateCheckout(req)
	if len(key) > maxIdempotencyKeyLen {
		fields["idempotency_key"] = fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLen)
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	buyer, _ := auth.BuyerFrom(ctx)
	res, err := h.orders.PlaceOrder(ctx, order.PlaceOrderRequest{
		Buyer:          buyer,
		Session:        sessionFrom(ctx),
		Delivery:       req.delivery(),
		Payment:        req.payment(),
		IdempotencyKey: key,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/orders/"+strconv.FormatInt(res.Order.ID, 10))
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, res.Order) })
}

// ListOrders returns the buyer's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyer, _ := auth.BuyerFrom(ctx)

	orders, err := h.orders.ListOrders(ctx, buyer)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

// GetOrder returns one of the buyer's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyer, _ := auth.BuyerFrom(ctx)

	id, ok := orderIDParam(r)
	if !ok {
		writeDomainError(w, r, order.ErrNotFound)
		return
	}
	o, err := h.orders.GetOrder(ctx, buyer, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// AdvanceStatus moves an order forward in fulfillment. Body: {"status":"shipped"}.
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(r)
	if !ok {
		writeDomainError(w, r, order.ErrNotFound)
		return
	}

	data, err := readBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	var status string
	if err := decodeStringFields(data, map[string]*string{"status": &status}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	o, err := h.orders.AdvanceStatus(r.Context(), id, order.Status(status))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func orderIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	return id, err == nil && id > 0
}
