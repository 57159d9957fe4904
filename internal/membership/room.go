// Package membership implements the room membership store (C4): the
// authoritative, durable set of (roomId -> participants), with the
// capacity and single-room-per-user invariants enforced inside a single
// serializable transaction.
package membership

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Store is backed by the relational store via database/sql + lib/pq.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore builds a membership store over an open database handle.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Room is the read-only projection of a Room row the core consults.
type Room struct {
	ID         string
	HostUserID string
	IsActive   bool
	MaxPlayers int
}

// Participant is a row of a room's membership list.
type Participant struct {
	UserID   string
	UserName string
	Score    int
	JoinedAt time.Time
}

// JoinResult is returned by Join on success.
type JoinResult struct {
	UserName string
}

// GetRoom reads a room's current host/capacity/activity state.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, "hostId", "isActive", "maxPlayers"
		FROM "Room"
		WHERE id = $1
	`, roomID)

	var room Room
	if err := row.Scan(&room.ID, &room.HostUserID, &room.IsActive, &room.MaxPlayers); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("membership: get room: %w", err)
	}
	return &room, nil
}

// Join attaches userId to roomId, enforcing capacity, activity, and the
// single-room-per-user invariant inside one serializable transaction. It
// returns the participant's display name, read fresh from User at join
// time, never a cached value (open question in spec.md §9).
func (s *Store) Join(ctx context.Context, userID, roomID string) (*JoinResult, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("membership: begin join tx: %w", err)
	}
	defer tx.Rollback()

	var isActive bool
	var maxPlayers int
	err = tx.QueryRowContext(ctx, `
		SELECT "isActive", "maxPlayers" FROM "Room" WHERE id = $1 FOR UPDATE
	`, roomID).Scan(&isActive, &maxPlayers)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("membership: lock room: %w", err)
	}
	if !isActive {
		return nil, ErrInactive
	}

	var alreadyHere bool
	var otherRoomID string
	err = tx.QueryRowContext(ctx, `
		SELECT "roomId" FROM "Participant" WHERE "userId" = $1
	`, userID).Scan(&otherRoomID)
	switch {
	case err == sql.ErrNoRows:
		// not a participant anywhere yet
	case err != nil:
		return nil, fmt.Errorf("membership: check existing membership: %w", err)
	case otherRoomID == roomID:
		alreadyHere = true
	default:
		return nil, ErrAlreadyInOtherRoom
	}

	if !alreadyHere {
		var count int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM "Participant" WHERE "roomId" = $1
		`, roomID).Scan(&count); err != nil {
			return nil, fmt.Errorf("membership: count participants: %w", err)
		}
		if count >= maxPlayers {
			return nil, ErrFull
		}
	}

	var userName string
	if err := tx.QueryRowContext(ctx, `
		SELECT name FROM "User" WHERE id = $1
	`, userID).Scan(&userName); err != nil {
		return nil, fmt.Errorf("membership: load user name: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO "Participant" ("roomId", "userId", score, "joinedAt")
		VALUES ($1, $2, 0, now())
		ON CONFLICT ("roomId", "userId") DO NOTHING
	`, roomID, userID); err != nil {
		return nil, fmt.Errorf("membership: upsert participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("membership: commit join: %w", err)
	}

	return &JoinResult{UserName: userName}, nil
}

// Leave removes userId from roomId's participant set. Idempotent.
func (s *Store) Leave(ctx context.Context, userID, roomID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM "Participant" WHERE "roomId" = $1 AND "userId" = $2
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("membership: leave: %w", err)
	}
	return nil
}

// List returns a room's current participants, joined-earliest first,
// for lobby snapshots and final standings.
func (s *Store) List(ctx context.Context, roomID string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p."userId", u.name, p.score, p."joinedAt"
		FROM "Participant" p
		JOIN "User" u ON u.id = p."userId"
		WHERE p."roomId" = $1
		ORDER BY p."joinedAt" ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("membership: list participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.UserName, &p.Score, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("membership: scan participant: %w", err)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, rows.Err()
}

// IncrementScore bumps a participant's score by delta. Used by the scoring
// updater inside the winning-claim transaction; exposed here because
// Participant rows are this store's table.
func (s *Store) IncrementScore(ctx context.Context, tx *sql.Tx, roomID, userID string, delta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE "Participant" SET score = score + $1 WHERE "roomId" = $2 AND "userId" = $3
	`, delta, roomID, userID)
	if err != nil {
		return fmt.Errorf("membership: increment score: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so the scoring updater can open
// transactions that touch both AnswerClaim and Participant atomically.
func (s *Store) DB() *sql.DB {
	return s.db
}
