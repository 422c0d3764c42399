package sqlite

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxBusyRetries   = 5
	initialBusyDelay = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is a SQLITE_BUSY / locked-database error.
// The driver surfaces these as plain error strings, so we match on text.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy runs op, retrying with exponential backoff when SQLite reports
// the database as busy. Non-busy errors fail immediately.
func retryOnBusy(op func() error) error {
	var err error
	delay := initialBusyDelay
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		err = op()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("database busy after %d attempts: %w", maxBusyRetries, err)
}
