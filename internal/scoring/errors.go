package scoring

import "errors"

// ErrDuplicateClaim surfaces when the unique index on
// (roomId, questionIndex) rejects a second AnswerClaim insert — the
// database-level backstop for I1 firing because the engine's in-memory
// check was bypassed by a bug. The engine logs it and still broadcasts the
// winner it arbitrated in memory; the conflict itself is never sent to
// clients.
var ErrDuplicateClaim = errors.New("scoring: duplicate claim")
