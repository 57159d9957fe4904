package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"

	"github.com/lib/pq"
)

// ErrInsufficientQuestions is returned when the bank holds fewer rows than a
// quiz needs; startQuiz surfaces this to the host rather than starting a
// short quiz.
var ErrInsufficientQuestions = errors.New("engine: question bank has fewer questions than required")

// Question is the engine's view of one bank row.
type Question struct {
	ID         string
	Text       string
	Options    [4]string
	CorrectIdx int
}

// QuestionBank reads the question pool directly; the teacher's question-bank
// plumbing was JSON/Prisma-specific to quiz authoring and doesn't survive
// the rework (see DESIGN.md), so this is new code grounded only in the
// relational-store access pattern the rest of the core uses.
type QuestionBank struct {
	db *sql.DB
}

// NewQuestionBank builds a bank over an open database handle.
func NewQuestionBank(db *sql.DB) *QuestionBank {
	return &QuestionBank{db: db}
}

// SelectQuizQuestions reads the whole bank once, shuffles in process, and
// returns a sample of n. The shuffle uses the process-wide math/rand source,
// so the sample is not deterministic: the same bank yields a different
// selection and order on each call.
func (b *QuestionBank) SelectQuizQuestions(ctx context.Context, n int) ([]Question, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, text, options, "correctIdx" FROM "Question"
	`)
	if err != nil {
		return nil, fmt.Errorf("engine: query question bank: %w", err)
	}
	defer rows.Close()

	var all []Question
	for rows.Next() {
		var q Question
		var options pq.StringArray
		if err := rows.Scan(&q.ID, &q.Text, &options, &q.CorrectIdx); err != nil {
			return nil, fmt.Errorf("engine: scan question: %w", err)
		}
		if len(options) != 4 {
			return nil, fmt.Errorf("engine: question %s has %d options, want 4", q.ID, len(options))
		}
		copy(q.Options[:], options)
		all = append(all, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterate question bank: %w", err)
	}

	if len(all) < n {
		return nil, ErrInsufficientQuestions
	}

	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:n], nil
}
