package engine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSelectQuizQuestionsReturnsRequestedCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "text", "options", "correctIdx"})
	for i := 0; i < 12; i++ {
		rows.AddRow("q"+string(rune('a'+i)), "text", pqArray("a", "b", "c", "d"), 0)
	}
	mock.ExpectQuery(`SELECT id, text, options, "correctIdx" FROM "Question"`).WillReturnRows(rows)

	bank := NewQuestionBank(db)
	questions, err := bank.SelectQuizQuestions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, questions, 10)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectQuizQuestionsFailsWhenBankTooSmall(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "text", "options", "correctIdx"}).
		AddRow("q1", "text", pqArray("a", "b", "c", "d"), 0)
	mock.ExpectQuery(`SELECT id, text, options, "correctIdx" FROM "Question"`).WillReturnRows(rows)

	bank := NewQuestionBank(db)
	_, err = bank.SelectQuizQuestions(context.Background(), 10)
	require.ErrorIs(t, err, ErrInsufficientQuestions)
}
