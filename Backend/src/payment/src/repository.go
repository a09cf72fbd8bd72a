package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var errPaymentNotFound = errors.New("payment introuvable")

type Repository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByTransactionID(ctx context.Context, txnID string) (*Payment, error)
	// GetByOrderID retourne la ligne la plus récente de la commande.
	GetByOrderID(ctx context.Context, orderID string) (*Payment, error)
	// FindPendingByAmount : heuristique de dernier recours pour résoudre un
	// webhook sans identifiant exploitable.
	FindPendingByAmount(ctx context.Context, amount int64) (*Payment, error)
	// ApplyTransition applique status (et transaction_id/metadata) si la machine
	// à états l'autorise. applied=false si la ligne est déjà terminale ou si la
	// transition ne fait pas avancer le statut ; ce n'est pas une erreur.
	ApplyTransition(ctx context.Context, id string, to Status, txnID string, rawPayload []byte) (applied bool, p *Payment, err error)
	Close() error
}

type sqliteRepo struct{ db *sql.DB }

func newSQLiteRepo(path string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &sqliteRepo{db: db}, nil
}

// newRepoWithDB sert aux tests (modernc.org/sqlite en :memory:).
func newRepoWithDB(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) Close() error { return r.db.Close() }

func (r *sqliteRepo) Init(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS payments(
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  amount INTEGER NOT NULL,
  method TEXT NOT NULL,
  status TEXT NOT NULL,
  transaction_id TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  customer_email TEXT NOT NULL DEFAULT '',
  customer_name TEXT NOT NULL DEFAULT '',
  metadata TEXT NOT NULL DEFAULT '[]',
  created_unix INTEGER NOT NULL,
  completed_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id, created_unix);
CREATE INDEX IF NOT EXISTS idx_payments_txn ON payments(transaction_id);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

const paymentCols = `id, order_id, user_id, amount, method, status, transaction_id,
phone, customer_email, customer_name, metadata, created_unix, completed_unix`

func (r *sqliteRepo) Create(ctx context.Context, p *Payment) error {
	if p.Metadata == "" {
		p.Metadata = "[]"
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO payments(`+paymentCols+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?);
`, p.ID, p.OrderID, p.UserID, p.Amount, p.Method, p.Status, p.TransactionID,
		p.Phone, p.CustomerEmail, p.CustomerName, p.Metadata, p.CreatedUnix, p.CompletedUnix)
	return err
}

func scanPayment(row *sql.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Method, &p.Status,
		&p.TransactionID, &p.Phone, &p.CustomerEmail, &p.CustomerName, &p.Metadata,
		&p.CreatedUnix, &p.CompletedUnix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *sqliteRepo) GetByID(ctx context.Context, id string) (*Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE id=?;`, id))
}

func (r *sqliteRepo) GetByTransactionID(ctx context.Context, txnID string) (*Payment, error) {
	if txnID == "" {
		return nil, nil
	}
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE transaction_id=? ORDER BY created_unix DESC LIMIT 1;`, txnID))
}

func (r *sqliteRepo) GetByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE order_id=? ORDER BY created_unix DESC LIMIT 1;`, orderID))
}

func (r *sqliteRepo) FindPendingByAmount(ctx context.Context, amount int64) (*Payment, error) {
	return scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE status=? AND amount=? ORDER BY created_unix DESC LIMIT 1;`,
		StatusPending, amount))
}

// metaEntry : une entrée du journal embarqué dans la colonne metadata.
type metaEntry struct {
	AtUnix  int64           `json:"at_unix"`
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func appendMeta(current string, e metaEntry) string {
	var entries []metaEntry
	if current != "" {
		_ = json.Unmarshal([]byte(current), &entries)
	}
	entries = append(entries, e)
	b, err := json.Marshal(entries)
	if err != nil {
		return current
	}
	return string(b)
}

func (r *sqliteRepo) ApplyTransition(ctx context.Context, id string, to Status, txnID string, rawPayload []byte) (bool, *Payment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	cur, err := scanPayment(tx.QueryRowContext(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE id=?;`, id))
	if err != nil {
		return false, nil, err
	}
	if cur == nil {
		return false, nil, fmt.Errorf("payment %s: %w", id, errPaymentNotFound)
	}

	if !Advance(cur.Status, to) {
		// Ligne déjà terminale ou statut qui n'avance pas : on accepte sans écrire.
		return false, cur, nil
	}

	completed := cur.CompletedUnix
	if to == StatusCompleted {
		completed = nowUnix()
	}
	newTxn := cur.TransactionID
	if txnID != "" {
		newTxn = txnID
	}
	meta := appendMeta(cur.Metadata, metaEntry{AtUnix: nowUnix(), Status: to, Payload: rawPayload})

	// Le WHERE status=? départage deux livraisons quasi simultanées du même
	// webhook : une seule écriture gagne.
	res, err := tx.ExecContext(ctx, `
UPDATE payments SET status=?, transaction_id=?, metadata=?, completed_unix=?
WHERE id=? AND status=?;
`, to, newTxn, meta, completed, id, cur.Status)
	if err != nil {
		return false, nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if n == 0 {
		cur2, err := scanPayment(tx.QueryRowContext(ctx,
			`SELECT `+paymentCols+` FROM payments WHERE id=?;`, id))
		if err != nil {
			return false, nil, err
		}
		return false, cur2, tx.Commit()
	}

	cur.Status = to
	cur.TransactionID = newTxn
	cur.Metadata = meta
	cur.CompletedUnix = completed
	return true, cur, tx.Commit()
}
