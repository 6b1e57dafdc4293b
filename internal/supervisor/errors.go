package supervisor

import "errors"

var (
	ErrNotFound         = errors.New("service not found")
	ErrCycleDetected    = errors.New("dependency cycle detected")
	ErrDisabled         = errors.New("service disabled")
	ErrBinaryUnresolved = errors.New("binary unresolved")
	ErrSpawnFailed      = errors.New("spawn failed")
	ErrStopFailed       = errors.New("stop failed")
	ErrNotRunning       = errors.New("service not running")
)
