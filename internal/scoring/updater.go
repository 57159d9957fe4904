package scoring

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"quiz-session-core/internal/membership"
)

// Updater is the C6 collaborator: it persists winning claims and computes
// final standings. Postgres calls run through a circuit breaker so a dead
// database fails fast instead of hanging a room's serial executor.
type Updater struct {
	store  *membership.Store
	calc   *Calculator
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewUpdater wires the updater over the membership store's database handle.
func NewUpdater(store *membership.Store, logger *zap.Logger) *Updater {
	settings := gobreaker.Settings{
		Name:        "scoring-postgres",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("scoring circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	return &Updater{
		store:  store,
		calc:   NewCalculator(),
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// State reports the breaker's current state, for the supervisor's metrics.
func (u *Updater) State() gobreaker.State {
	return u.cb.State()
}

// RecordClaim persists the winning claim for (roomID, questionIndex) by
// userID: inserts the AnswerClaim row and increments the participant's
// score in one serializable transaction (I1/I2). Returns ErrDuplicateClaim
// if the unique index already holds a claim for this question.
func (u *Updater) RecordClaim(ctx context.Context, roomID string, questionIndex int, userID string) error {
	_, err := u.cb.Execute(func() (interface{}, error) {
		return nil, u.recordClaimTx(ctx, roomID, questionIndex, userID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("scoring: circuit open, claim not recorded: %w", err)
	}
	return err
}

func (u *Updater) recordClaimTx(ctx context.Context, roomID string, questionIndex int, userID string) error {
	tx, err := u.store.DB().BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("scoring: begin claim tx: %w", err)
	}
	defer tx.Rollback()

	txHash := fmt.Sprintf("claim_%s_%d_%s_%d", roomID, questionIndex, userID, time.Now().UnixMilli())
	_, err = tx.ExecContext(ctx, `
		INSERT INTO "AnswerClaim" ("roomId", "questionIndex", "userId", "txHash", "createdAt")
		VALUES ($1, $2, $3, $4, now())
	`, roomID, questionIndex, userID, txHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("scoring: insert claim: %w", err)
	}

	if err := u.store.IncrementScore(ctx, tx, roomID, userID, u.calc.ScoreForClaim()); err != nil {
		return err
	}

	return tx.Commit()
}

// FinalStandings reads the room's participants, upserts each player's
// rating, and returns the sorted leaderboard. A store failure here is
// returned to the caller; the engine then logs it and marks the room Dead
// without a quizFinished fan-out.
func (u *Updater) FinalStandings(ctx context.Context, roomID string) ([]Standing, error) {
	participants, err := u.store.List(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("scoring: list participants: %w", err)
	}

	standings := make([]Standing, 0, len(participants))
	_, err = u.cb.Execute(func() (interface{}, error) {
		tx, err := u.store.DB().BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("scoring: begin standings tx: %w", err)
		}
		defer tx.Rollback()

		for _, p := range participants {
			newRating, err := u.upsertRating(ctx, tx, p.UserID, p.Score)
			if err != nil {
				return nil, err
			}
			standings = append(standings, Standing{
				UserID:    p.UserID,
				UserName:  p.UserName,
				Score:     p.Score,
				NewRating: newRating,
			})
		}
		return nil, tx.Commit()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, fmt.Errorf("scoring: circuit open, standings not persisted: %w", err)
		}
		return nil, err
	}

	u.calc.SortStandings(standings)
	return standings, nil
}

func (u *Updater) upsertRating(ctx context.Context, tx *sql.Tx, userID string, score int) (int, error) {
	var prevRating int
	err := tx.QueryRowContext(ctx, `SELECT rating FROM "PlayerRating" WHERE "userId" = $1`, userID).Scan(&prevRating)
	switch {
	case err == sql.ErrNoRows:
		prevRating = baseRating
	case err != nil:
		return 0, fmt.Errorf("scoring: read rating: %w", err)
	}

	newRating := u.calc.NewRating(prevRating, score)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO "PlayerRating" ("userId", rating, "updatedAt")
		VALUES ($1, $2, now())
		ON CONFLICT ("userId") DO UPDATE SET rating = $2, "updatedAt" = now()
	`, userID, newRating); err != nil {
		return 0, fmt.Errorf("scoring: upsert rating: %w", err)
	}
	return newRating, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
