package modmanager

import "errors"

var (
	// ErrUnknownModule is returned by route_command when the target names
	// no registered Module Record. It is never a panic.
	ErrUnknownModule = errors.New("modmanager: unknown module")

	// ErrAlreadyRunning is returned by register once RunAll has started;
	// registration is only permitted before the manager is running.
	ErrAlreadyRunning = errors.New("modmanager: registration closed after run_all")

	// ErrAlreadyRegistered is returned by register for a duplicate name.
	ErrAlreadyRegistered = errors.New("modmanager: module already registered")
)
