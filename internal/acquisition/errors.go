package acquisition

import "errors"

var (
	// ErrConfigInvalid rejects a bad acquisition or trigger config at
	// creation; it never reaches a running polling loop.
	ErrConfigInvalid = errors.New("invalid acquisition config")

	// ErrInvalidTransition rejects a control call from the wrong state;
	// session state is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTriggerTimeout stops an armed session whose trigger never fired
	// within the configured timeout.
	ErrTriggerTimeout = errors.New("trigger timeout")

	// ErrSessionNotFound is returned by the manager for unknown ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownChannel is returned for data requests on channels the
	// session does not capture.
	ErrUnknownChannel = errors.New("unknown channel")
)
