package syncer

import (
	"errors"
	"fmt"
)

// State is the controller lifecycle. Ready and Saving alternate during
// normal use; Conflict and Errored are terminal until the controller is
// reopened.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateSaving        State = "saving"
	StateConflict      State = "conflict"
	StateErrored       State = "errored"
)

// ErrNoBlob means the server has no database for this user yet; the
// caller should run the bootstrap path.
var ErrNoBlob = errors.New("syncer: no remote database")

// NetworkError wraps transport-level failures. The local database stays
// usable; the save is retried later.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("syncer: %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// VersionConflictError means another session saved first. There is no
// merge; the losing session stops saving until reopened.
type VersionConflictError struct {
	Expected int64
	Server   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("syncer: version conflict: expected %d, server at %d", e.Expected, e.Server)
}

// BootstrapRaceError means another session initialized the database
// between this session's download and init calls.
type BootstrapRaceError struct {
	Server int64
}

func (e *BootstrapRaceError) Error() string {
	return fmt.Sprintf("syncer: bootstrap race: server already at version %d", e.Server)
}
