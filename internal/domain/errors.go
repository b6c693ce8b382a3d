// internal/domain/errors.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks failures that are expected to clear on retry: rate limits,
	// RPC hiccups, confirmation timeouts.
	ErrTransient = errors.New("transient gateway error")

	// ErrFatalOperatorDecision aborts a workflow when continuing would leave the
	// accounts in a mixed state.
	ErrFatalOperatorDecision = errors.New("workflow aborted")

	// ErrNoPosition is returned by gateways asked to act on a position that does not exist.
	ErrNoPosition = errors.New("no position")
)

// ValidationError отклоняет запрос до любой работы с сетью.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation сообщает, является ли err ошибкой ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// TransientError оборачивает сбой шлюза, который может пройти при повторе.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// Transient оборачивает err в TransientError.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// StateInconsistency is reported when a mutation was issued but the chain
// does not reflect it yet.
type StateInconsistency struct {
	AccountID string
	Want      string
}

func (e *StateInconsistency) Error() string {
	return fmt.Sprintf("account %s: expected %s, chain disagrees", e.AccountID, e.Want)
}

var transientMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"timeout",
	"timed out",
	"blockhash not found",
	"blockhashnotfound",
	"connection reset",
	"connection refused",
	"eof",
	"503",
	"502",
}

// IsTransient определяет, можно ли повторить err.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsRateLimit reports whether err is an RPC or HTTP "too many requests".
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}
