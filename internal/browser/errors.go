package browser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionClosed marks errors after which no further interaction is
// possible. The engine aborts the run immediately on it, bypassing the
// consecutive-failure counter.
var ErrSessionClosed = errors.New("browser session closed")

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if isClosedMessage(err.Error()) {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	return fmt.Errorf("playwright: %w", err)
}

// IsSessionClosed reports whether err means the page, context or browser is
// gone.
func IsSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionClosed) {
		return true
	}
	return isClosedMessage(err.Error())
}

func isClosedMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{
		"target page, context or browser has been closed",
		"browser has been closed",
		"target closed",
		"connection closed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
