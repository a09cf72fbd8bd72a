package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // driver 100% Go
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL,
  total INTEGER NOT NULL,
  created_unix INTEGER NOT NULL,
  updated_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);
`
	_, err := db.Exec(schema)
	return err
}

func (r *Repository) Close() { _ = r.db.Close() }

func (r *Repository) Create(ctx context.Context, o *Order) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO orders(id, user_id, status, total, created_unix, updated_unix)
VALUES(?,?,?,?,?,?);
`, o.ID, o.UserID, o.Status, o.Total, o.CreatedUnix, o.UpdatedUnix)
	return err
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, status, total, created_unix, updated_unix FROM orders WHERE id=?;
`, id)
	var o Order
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.CreatedUnix, &o.UpdatedUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// Confirm passe la commande en confirmed, une seule fois : le WHERE
// conditionnel absorbe les relivraisons de payment.completed.
func (r *Repository) Confirm(ctx context.Context, id string) (applied bool, err error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE orders SET status=?, updated_unix=? WHERE id=? AND status=?;
`, OrderConfirmed, nowUnix(), id, OrderPendingPayment)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
