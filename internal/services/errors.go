package services

import (
	"errors"
	"fmt"
	"strings"
)

// Marker errors classify failures at component boundaries. Callers use
// errors.Is against these sentinels rather than matching message text.
var (
	ErrValidation        = errors.New("validation error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrSubmission        = errors.New("provider submission failure")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTransient         = errors.New("transient failure")
	ErrDelivery          = errors.New("delivery failure")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureReason extracts the human-readable reason recorded onto a failed
// task. Expected business outcomes carry fixed reasons so callers see stable
// text regardless of the underlying transport error.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "failed without error detail"
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient balance."
	case errors.Is(err, ErrNotFound):
		return "Model not found."
	default:
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			return "failed without error detail"
		}
		return msg
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
