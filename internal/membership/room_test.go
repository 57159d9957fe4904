package membership

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, zap.NewNop()), mock
}

func TestJoinFailsWhenRoomInactive(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "isActive", "maxPlayers" FROM "Room"`).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"isActive", "maxPlayers"}).AddRow(false, 4))
	mock.ExpectRollback()

	_, err := s.Join(context.Background(), "user-1", "room-1")
	require.ErrorIs(t, err, ErrInactive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinFailsWhenAlreadyInOtherRoom(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "isActive", "maxPlayers" FROM "Room"`).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"isActive", "maxPlayers"}).AddRow(true, 4))
	mock.ExpectQuery(`SELECT "roomId" FROM "Participant"`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"roomId"}).AddRow("room-other"))
	mock.ExpectRollback()

	_, err := s.Join(context.Background(), "user-1", "room-1")
	require.ErrorIs(t, err, ErrAlreadyInOtherRoom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinFailsWhenFull(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "isActive", "maxPlayers" FROM "Room"`).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"isActive", "maxPlayers"}).AddRow(true, 2))
	mock.ExpectQuery(`SELECT "roomId" FROM "Participant"`).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "Participant"`).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	_, err := s.Join(context.Background(), "user-1", "room-1")
	require.ErrorIs(t, err, ErrFull)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinSucceedsReadsCurrentName(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "isActive", "maxPlayers" FROM "Room"`).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"isActive", "maxPlayers"}).AddRow(true, 4))
	mock.ExpectQuery(`SELECT "roomId" FROM "Participant"`).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "Participant"`).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT name FROM "User"`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Ada"))
	mock.ExpectExec(`INSERT INTO "Participant"`).
		WithArgs("room-1", "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := s.Join(context.Background(), "user-1", "room-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", res.UserName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOrdersByJoinedAt(t *testing.T) {
	s, mock := newTestStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"userId", "name", "score", "joinedAt"}).
		AddRow("u2", "Bob", 3, now.Add(time.Second)).
		AddRow("u1", "Ada", 1, now)
	mock.ExpectQuery(`SELECT p."userId"`).WithArgs("room-1").WillReturnRows(rows)

	participants, err := s.List(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, participants, 2)
	assert.Equal(t, "u1", participants[0].UserID)
	assert.Equal(t, "u2", participants[1].UserID)
}
