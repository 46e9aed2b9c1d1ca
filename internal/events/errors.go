package events

import "fmt"

// RecoverableError is an error that is explicitly marked as recoverable. The
// delivery is requeued.
type RecoverableError struct {
	message string
}

func (e RecoverableError) Error() string {
	return e.message
}

func NewRecoverableError(formatString string, a ...interface{}) RecoverableError {
	return RecoverableError{message: fmt.Sprintf(formatString, a...)}
}

// UnrecoverableError is an error that we do not expect to be able to recover
// from. The delivery is rejected without requeueing.
type UnrecoverableError struct {
	message string
}

func (e UnrecoverableError) Error() string {
	return e.message
}

func NewUnrecoverableError(formatString string, a ...interface{}) UnrecoverableError {
	return UnrecoverableError{message: fmt.Sprintf(formatString, a...)}
}
