package messages

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func q(query string) string {
	return regexp.QuoteMeta(query)
}

func TestPostgresStore_Create(t *testing.T) {
	store, mock := newStoreWithMock(t)
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q(insertMessageQuery)).
		WithArgs(sqlmock.AnyArg(), "alice", "bob", "hello", "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	msg, err := store.Create(context.Background(), Message{SenderID: "alice", ReceiverID: "bob", Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, created, msg.CreatedAt)
	assert.False(t, msg.Seen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateDBError(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectQuery(q(insertMessageQuery)).
		WithArgs("m-1", "alice", "bob", "", "https://img/1.png").
		WillReturnError(errors.New("db down"))

	_, err := store.Create(context.Background(), Message{ID: "m-1", SenderID: "alice", ReceiverID: "bob", Image: "https://img/1.png"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

func TestPostgresStore_MarkSeen(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectExec(q(markSeenQuery)).WithArgs("m-1", "bob").WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.MarkSeen(context.Background(), "m-1", "bob"))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectExec(q(markSeenQuery)).WithArgs("nope", "bob").WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.MarkSeen(context.Background(), "nope", "bob"), ErrNotFound)
	})

	t.Run("not the receiver", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectExec(q(markSeenQuery)).WithArgs("m-1", "mallory").WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.MarkSeen(context.Background(), "m-1", "mallory"), ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectExec(q(markSeenQuery)).WithArgs("m-1", "bob").WillReturnError(sql.ErrConnDone)

		err := store.MarkSeen(context.Background(), "m-1", "bob")
		assert.ErrorIs(t, err, ErrPersistenceUnavailable)
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})
}

func TestPostgresStore_Conversation(t *testing.T) {
	store, mock := newStoreWithMock(t)
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	rows := sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "text", "image", "seen", "created_at"}).
		AddRow("m-1", "alice", "bob", "hi", "", true, t1).
		AddRow("m-2", "bob", "alice", "", "https://img/2.png", false, t2)
	mock.ExpectQuery(q(conversationQuery)).WithArgs("alice", "bob").WillReturnRows(rows)

	got, err := store.Conversation(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Message{ID: "m-1", SenderID: "alice", ReceiverID: "bob", Text: "hi", Seen: true, CreatedAt: t1}, got[0])
	assert.Equal(t, "https://img/2.png", got[1].Image)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkConversationSeen(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectExec(q(markConversationSeenQuery)).
		WithArgs("alice", "bob").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.MarkConversationSeen(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnseenCounts(t *testing.T) {
	store, mock := newStoreWithMock(t)
	rows := sqlmock.NewRows([]string{"sender_id", "count"}).
		AddRow("alice", 2).
		AddRow("carol", 1)
	mock.ExpectQuery(q(unseenCountsQuery)).WithArgs("bob").WillReturnRows(rows)

	got, err := store.UnseenCounts(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 2, "carol": 1}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnseenCountsDBError(t *testing.T) {
	store, mock := newStoreWithMock(t)
	mock.ExpectQuery(q(unseenCountsQuery)).WithArgs("bob").WillReturnError(errors.New("timeout"))

	_, err := store.UnseenCounts(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrPersistenceUnavailable)
}
