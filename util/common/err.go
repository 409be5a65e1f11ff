// Package common provides small helpers shared across the agent.
package common

import (
	"errors"
	"fmt"

	"github.com/konstpic/marznode-stats/logger"
)

// NewErrorf creates a new error with formatted message.
func NewErrorf(format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	return errors.New(msg)
}

// NewError creates a new error from the given arguments.
func NewError(a ...any) error {
	msg := fmt.Sprint(a...)
	return errors.New(msg)
}

// Recover handles panic recovery and logs the panic error if a message is provided.
// It must be called directly by a deferred function.
func Recover(msg string) any {
	panicErr := recover()
	if panicErr != nil {
		if msg != "" {
			logger.Error(msg, " panic: ", panicErr)
		}
	}
	return panicErr
}
