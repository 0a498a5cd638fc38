// Package repository implements data access on PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/QuanBu1/DoAnTotNghiep-CookingWebsite-sub000/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrOrderNotFound is returned when no order exists for a (kind, id) pair.
	ErrOrderNotFound = errors.New("order not found")
	// ErrTransitionRejected is returned when a conditional status update
	// finds the order in a different state than expected. The caller must
	// not retry blindly: the other party won the race.
	ErrTransitionRejected = errors.New("transition rejected")
	// ErrUnknownItem is returned when a catalog lookup finds no such course or tool.
	ErrUnknownItem = errors.New("unknown catalog item")
)

// PostgresRepository provides access to orders, the payment ledger and the
// catalog in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository and initializes the schema via
// migrations.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry re-runs fn on serialization failures, deadlocks and transient
// connection errors. Conditional-update rejections are never retried here;
// they are a final answer, not a transient fault.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// NewOrder carries the immutable creation-time fields of an order.
type NewOrder struct {
	Kind            model.OrderKind
	OwnerID         int64
	ExpectedAmount  int64
	LineItems       []model.LineItem
	ShippingAddress string
	PaymentDeadline time.Time
}

// CreateOrder inserts a pending order with its line items in one
// transaction. The reference code depends on the database-assigned id, so it
// is produced by refFn inside the same transaction.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o NewOrder, refFn func(id int64) string) (*model.Order, error) {
	var created *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			id        int64
			createdAt time.Time
		)
		err = tx.QueryRow(ctx,
			`INSERT INTO orders (kind, owner_id, expected_amount, status, payment_method, shipping_address, payment_deadline)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			string(o.Kind), o.OwnerID, o.ExpectedAmount, string(model.StatusPending),
			string(model.PaymentUnspecified), o.ShippingAddress, o.PaymentDeadline,
		).Scan(&id, &createdAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		ref := refFn(id)
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET reference_code = $2 WHERE id = $1`,
			id, ref,
		); err != nil {
			return fmt.Errorf("set reference code: %w", err)
		}

		for _, li := range o.LineItems {
			if _, err := tx.Exec(ctx,
				`INSERT INTO order_items (order_id, item_id, name, unit_price, quantity)
				 VALUES ($1, $2, $3, $4, $5)`,
				id, li.ItemID, li.Name, li.UnitPrice, li.Quantity,
			); err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		created = &model.Order{
			ID:              id,
			Kind:            o.Kind,
			OwnerID:         o.OwnerID,
			ExpectedAmount:  o.ExpectedAmount,
			Status:          model.StatusPending,
			LineItems:       o.LineItems,
			PaymentMethod:   model.PaymentUnspecified,
			ShippingAddress: o.ShippingAddress,
			ReferenceCode:   ref,
			PaymentDeadline: o.PaymentDeadline,
			CreatedAt:       createdAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// GetOrder loads an order with its line items by (kind, id).
func (r *PostgresRepository) GetOrder(ctx context.Context, kind model.OrderKind, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, expected_amount, status, payment_method, shipping_address,
		        COALESCE(reference_code, ''), payment_deadline, created_at
		 FROM orders
		 WHERE id = $1 AND kind = $2`,
		id, string(kind),
	)

	o := model.Order{Kind: kind}
	var rawStatus, rawMethod string
	err := row.Scan(&o.ID, &o.OwnerID, &o.ExpectedAmount, &rawStatus, &rawMethod,
		&o.ShippingAddress, &o.ReferenceCode, &o.PaymentDeadline, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	status, ok := model.NormalizeStatus(rawStatus)
	if !ok {
		return nil, fmt.Errorf("order %d: unknown status %q", id, rawStatus)
	}
	o.Status = status
	o.PaymentMethod = model.PaymentMethod(rawMethod)

	rows, err := r.pool.Query(ctx,
		`SELECT item_id, name, unit_price, quantity
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var li model.LineItem
		if err := rows.Scan(&li.ItemID, &li.Name, &li.UnitPrice, &li.Quantity); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		o.LineItems = append(o.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &o, nil
}

// GetOrderStatus returns the status of an order owned by ownerID. A foreign
// or missing order is ErrOrderNotFound either way, so callers cannot probe
// other users' orders.
func (r *PostgresRepository) GetOrderStatus(ctx context.Context, kind model.OrderKind, id, ownerID int64) (model.OrderStatus, error) {
	var rawStatus string
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 AND kind = $2 AND owner_id = $3`,
		id, string(kind), ownerID,
	).Scan(&rawStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrOrderNotFound
		}
		return "", fmt.Errorf("get order status: %w", err)
	}

	status, ok := model.NormalizeStatus(rawStatus)
	if !ok {
		return "", fmt.Errorf("order %d: unknown status %q", id, rawStatus)
	}
	return status, nil
}

// TransitionOrder performs the atomic conditional status update: it succeeds
// only if the stored status currently equals from. This single primitive is
// what keeps webhook confirmation and countdown cancellation race-safe
// without external locking. A non-nil method is set in the same statement.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, kind model.OrderKind, id int64, from, to model.OrderStatus, method *model.PaymentMethod) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.transitionExec(ctx, r.pool, kind, id, from, to, method)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.rejectReason(ctx, kind, id)
		}
		return nil
	})
}

// execer covers both pool and transaction handles.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *PostgresRepository) transitionExec(ctx context.Context, db execer, kind model.OrderKind, id int64, from, to model.OrderStatus, method *model.PaymentMethod) (pgconn.CommandTag, error) {
	if method != nil {
		tag, err := db.Exec(ctx,
			`UPDATE orders SET status = $4, payment_method = $5
			 WHERE id = $1 AND kind = $2 AND status = $3`,
			id, string(kind), string(from), string(to), string(*method),
		)
		if err != nil {
			return tag, fmt.Errorf("conditional update: %w", err)
		}
		return tag, nil
	}

	tag, err := db.Exec(ctx,
		`UPDATE orders SET status = $4
		 WHERE id = $1 AND kind = $2 AND status = $3`,
		id, string(kind), string(from), string(to),
	)
	if err != nil {
		return tag, fmt.Errorf("conditional update: %w", err)
	}
	return tag, nil
}

// rejectReason distinguishes a missing order from a lost race.
func (r *PostgresRepository) rejectReason(ctx context.Context, kind model.OrderKind, id int64) error {
	var one int
	err := r.pool.QueryRow(ctx,
		`SELECT 1 FROM orders WHERE id = $1 AND kind = $2`,
		id, string(kind),
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	return ErrTransitionRejected
}

// UpdatePaymentMethod sets the payment method while the order is still
// pending. Once status has left pending the method is frozen and the update
// is rejected.
func (r *PostgresRepository) UpdatePaymentMethod(ctx context.Context, kind model.OrderKind, id int64, method model.PaymentMethod) error {
	return r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE orders SET payment_method = $4
			 WHERE id = $1 AND kind = $2 AND status = $3`,
			id, string(kind), string(model.StatusPending), string(method),
		)
		if err != nil {
			return fmt.Errorf("update payment method: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.rejectReason(ctx, kind, id)
		}
		return nil
	})
}

// ConfirmPayment applies the pending→confirmed transition and appends the
// ledger entry in one transaction. If the conditional update loses (order
// already confirmed or cancelled), nothing is written.
func (r *PostgresRepository) ConfirmPayment(ctx context.Context, kind model.OrderKind, id, amount int64, memo string, method *model.PaymentMethod) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		tag, err := r.transitionExec(ctx, tx, kind, id, model.StatusPending, model.StatusConfirmed, method)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.rejectReason(ctx, kind, id)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO payment_ledger (id, order_kind, order_id, amount, memo)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), string(kind), id, amount, memo,
		); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// LedgerEntries returns the recorded transfers for an order, oldest first.
func (r *PostgresRepository) LedgerEntries(ctx context.Context, kind model.OrderKind, id int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, amount, memo, recorded_at
		 FROM payment_ledger
		 WHERE order_kind = $1 AND order_id = $2
		 ORDER BY recorded_at`,
		string(kind), id,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		e := model.LedgerEntry{OrderKind: kind, OrderID: id}
		if err := rows.Scan(&e.ID, &e.Amount, &e.Memo, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CourseInfo is the catalog view of a course used at enrollment time.
type CourseInfo struct {
	Title        string
	Price        int64
	InstructorID int64
}

// CourseByID looks up a course in the catalog.
func (r *PostgresRepository) CourseByID(ctx context.Context, courseID int64) (*CourseInfo, error) {
	var c CourseInfo
	err := r.pool.QueryRow(ctx,
		`SELECT title, price, instructor_id FROM courses WHERE id = $1`,
		courseID,
	).Scan(&c.Title, &c.Price, &c.InstructorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: course %d", ErrUnknownItem, courseID)
		}
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

// ToolInfo is the catalog view of a tool product.
type ToolInfo struct {
	Name  string
	Price int64
}

// ToolsByIDs looks up tool products in the catalog. Every requested id must
// exist; an unknown id fails the whole lookup.
func (r *PostgresRepository) ToolsByIDs(ctx context.Context, ids []int64) (map[int64]ToolInfo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, price FROM tools WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select tools: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]ToolInfo, len(ids))
	for rows.Next() {
		var (
			id int64
			t  ToolInfo
		)
		if err := rows.Scan(&id, &t.Name, &t.Price); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		res[id] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, id := range ids {
		if _, ok := res[id]; !ok {
			return nil, fmt.Errorf("%w: tool %d", ErrUnknownItem, id)
		}
	}

	return res, nil
}
