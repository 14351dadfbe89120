// Package messages provides the PostgreSQL Store and its embedded migrations.
package messages

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is the subset of database/sql used by PostgresStore.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	insertMessageQuery = `INSERT INTO messages (id, sender_id, receiver_id, text, image)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	markSeenQuery = `UPDATE messages SET seen = TRUE WHERE id = $1 AND receiver_id = $2`

	conversationQuery = `SELECT id, sender_id, receiver_id, text, image, seen, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY seq`

	markConversationSeenQuery = `UPDATE messages SET seen = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND NOT seen`

	unseenCountsQuery = `SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = $1 AND NOT seen
		GROUP BY sender_id`
)

// OpenPostgres connects through the pgx stdlib driver and applies the
// embedded migrations.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: db ping: %w", ErrPersistenceUnavailable, err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return db, nil
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// PostgresStore is the Store backed by PostgreSQL.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore returns a store running its queries on db, which may be a
// *sql.DB or a *sql.Tx.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func dbError(err error) error {
	return fmt.Errorf("%w: db error: %w", ErrPersistenceUnavailable, err)
}

// Create inserts msg and returns it with the database assigned CreatedAt.
func (s *PostgresStore) Create(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	err := s.db.QueryRowContext(ctx, insertMessageQuery,
		msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, msg.Image).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, dbError(err)
	}

	msg.Seen = false
	return msg, nil
}

// MarkSeen flips the seen flag of message id if receiverID is its receiver.
func (s *PostgresStore) MarkSeen(ctx context.Context, id, receiverID string) error {
	res, err := s.db.ExecContext(ctx, markSeenQuery, id, receiverID)
	if err != nil {
		return dbError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Conversation returns the messages between a and b in insertion order.
func (s *PostgresStore) Conversation(ctx context.Context, a, b string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, conversationQuery, a, b)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &m.Image, &m.Seen, &m.CreatedAt); err != nil {
			return nil, dbError(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}

	return out, nil
}

// MarkConversationSeen marks everything sender sent to reader as seen.
func (s *PostgresStore) MarkConversationSeen(ctx context.Context, reader, sender string) (int64, error) {
	res, err := s.db.ExecContext(ctx, markConversationSeenQuery, sender, reader)
	if err != nil {
		return 0, dbError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError(err)
	}
	return n, nil
}

// UnseenCounts counts reader's unseen messages per sender.
func (s *PostgresStore) UnseenCounts(ctx context.Context, reader string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, unseenCountsQuery, reader)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			sender string
			n      int
		)
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, dbError(err)
		}
		counts[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}

	return counts, nil
}
