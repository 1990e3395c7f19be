package sqlite

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxBusyRetries   = 5
	initialBusyDelay = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err is a transient lock conflict.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy runs fn up to maxBusyRetries times, backing off
// exponentially while it fails with SQLITE_BUSY. Other errors are
// returned unchanged on first sight.
func retryOnBusy(fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initialBusyDelay
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !isSQLiteBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(eb, maxBusyRetries-1))
}
