package common

import "errors"

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyLock is a non-blocking, whole-operation lock. Enter fails instead
// of waiting so that a nested call triggered by an external sub-call surfaces
// as ErrReentrantCall rather than deadlocking the operation that holds the
// lock. The ledger applies mutating operations sequentially, so the lock only
// ever trips on genuine reentrancy.
type ReentrancyLock struct {
	held bool
}

// Enter acquires the lock or reports ErrReentrantCall when it is already held.
func (l *ReentrancyLock) Enter() error {
	if l == nil {
		return nil
	}
	if l.held {
		return ErrReentrantCall
	}
	l.held = true
	return nil
}

// Exit releases the lock.
func (l *ReentrancyLock) Exit() {
	if l == nil {
		return
	}
	l.held = false
}
