package stm

import "github.com/proofls/proofls/errors"

// ErrNotRunning is returned by every mutating operation once the prover
// has died or the STM has been shut down, until Reset is called.
var ErrNotRunning = errors.New("stm: not running")

// ErrStaleEdit is returned when apply_changes observes a version that
// does not strictly exceed the STM's view of the buffer version.
var ErrStaleEdit = errors.New("stm: stale edit")

// ErrAlreadyRunning is returned by Init when called on a live STM.
var ErrAlreadyRunning = errors.New("stm: already running")
