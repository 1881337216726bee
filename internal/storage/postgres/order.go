package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/order"
)

const orderColumns = `id, buyer_id, buyer_username, created_at, status,
	full_name, phone, address, city, postal_code, delivery_method, department, comment,
	payment_method, total_price, COALESCE(idempotency_key, '')`

const (
	insertOrderSQL = `INSERT INTO orders (buyer_id, buyer_username, status,
		full_name, phone, address, city, postal_code, delivery_method, department, comment,
		payment_method, total_price, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, title, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE buyer_id = $1 AND idempotency_key = $2`

	listOrdersByBuyerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`

	getOrderForBuyerSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE id = $1 AND buyer_id = $2`

	getOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE id = $1 FOR UPDATE`

	updateOrderStatusSQL = `UPDATE orders SET status = $2 WHERE id = $1`

	listOrderItemsSQL = `SELECT order_id, product_id, title, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order row and all its items in a single transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		d := o.Delivery
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.BuyerID, o.BuyerUsername, string(o.Status),
			d.FullName, d.Phone, d.Address, d.City, d.PostalCode, string(d.Method), d.Department, d.Comment,
			string(o.PaymentMethod), o.Total, nullIfEmpty(o.IdempotencyKey),
		).Scan(&o.ID, &o.CreatedAt)
		if err != nil {
			return err
		}

		if len(o.Items) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, item := range o.Items {
			batch.Queue(insertOrderItemSQL, o.ID, item.ProductID, item.Title, item.Quantity, item.UnitPrice)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		o.ID = 0
		if isUniqueViolation(err) {
			return order.ErrDuplicateKey
		}
		return fmt.Errorf("creating order: %w", err)
	}
	return nil
}

// FindByIdempotencyKey returns the buyer's order created with key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, buyerID int64, key string) (*order.Order, error) {
	return r.getOne(ctx, r.pool, getOrderByKeySQL, buyerID, key)
}

// ListByBuyer returns all orders of a buyer with their items, newest first.
func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID int64) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByBuyerSQL, buyerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of buyer %d: %w", buyerID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of buyer %d: %w", buyerID, err)
	}
	if err := loadItems(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetForBuyer returns order id if it belongs to buyerID.
func (r *OrderRepository) GetForBuyer(ctx context.Context, buyerID, id int64) (*order.Order, error) {
	return r.getOne(ctx, r.pool, getOrderForBuyerSQL, id, buyerID)
}

// AdvanceStatus locks the order row, checks that status does not move it
// backwards and stores it.
func (r *OrderRepository) AdvanceStatus(ctx context.Context, id int64, status order.Status) (*order.Order, error) {
	var out *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		o, err := r.getOne(ctx, tx, getOrderForUpdateSQL, id)
		if err != nil {
			return err
		}
		if !o.Status.CanAdvanceTo(status) {
			return order.ErrStatusRegression
		}
		if o.Status != status {
			if _, err := tx.Exec(ctx, updateOrderStatusSQL, id, string(status)); err != nil {
				return fmt.Errorf("updating status of order %d: %w", id, err)
			}
			o.Status = status
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrderRepository) getOne(ctx context.Context, q querier, sql string, args ...any) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	orders := []order.Order{o}
	if err := loadItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// loadItems fills in Items of every order with one query.
func loadItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Items = []order.Item{}
	}

	rows, err := q.Query(ctx, listOrderItemsSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	var (
		orderID int64
		item    order.Item
	)
	_, err = pgx.ForEachRow(rows, []any{&orderID, &item.ProductID, &item.Title, &item.Quantity, &item.UnitPrice}, func() error {
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing order items: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                     order.Order
		status, deliveryMethod, paymentMethod string
		total                                 decimal.Decimal
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.BuyerUsername, &o.CreatedAt, &status,
		&o.Delivery.FullName, &o.Delivery.Phone, &o.Delivery.Address, &o.Delivery.City,
		&o.Delivery.PostalCode, &deliveryMethod, &o.Delivery.Department, &o.Delivery.Comment,
		&paymentMethod, &total, &o.IdempotencyKey,
	)
	o.Status = order.Status(status)
	o.Delivery.Method = order.DeliveryMethod(deliveryMethod)
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.Total = total
	return o, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
