package main

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  data TEXT NOT NULL DEFAULT '{}',
  is_read INTEGER NOT NULL DEFAULT 0,
  created_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_unix);
CREATE TABLE IF NOT EXISTS push_endpoints (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL,
  url TEXT NOT NULL,
  created_unix INTEGER NOT NULL,
  UNIQUE(user_id, url)
);`
	_, err := r.db.Exec(schema)
	return err
}

func (r *Repository) Close() { _ = r.db.Close() }

func (r *Repository) Create(ctx context.Context, n *Notification) error {
	if n.Data == "" {
		n.Data = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notifications(id, user_id, type, title, message, data, is_read, created_unix)
VALUES(?,?,?,?,?,?,?,?);
`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Data, n.IsRead, n.CreatedUnix)
	return err
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, type, title, message, data, is_read, created_unix
FROM notifications WHERE user_id=? ORDER BY created_unix DESC;
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Data, &n.IsRead, &n.CreatedUnix); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) MarkRead(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=?;`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) RegisterEndpoint(ctx context.Context, userID, url string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO push_endpoints(user_id, url, created_unix) VALUES(?,?,?)
ON CONFLICT(user_id, url) DO NOTHING;
`, userID, url, nowUnix())
	return err
}

func (r *Repository) EndpointsByUser(ctx context.Context, userID string) ([]PushEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, url, created_unix FROM push_endpoints WHERE user_id=?;
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PushEndpoint
	for rows.Next() {
		var e PushEndpoint
		if err := rows.Scan(&e.ID, &e.UserID, &e.URL, &e.CreatedUnix); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
