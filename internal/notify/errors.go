package notify

import "errors"

var (
	// ErrDelivery is returned when no recipient could be reached.
	ErrDelivery = errors.New("notify: delivery failed")

	// ErrNoRecipients is returned when resolution yields nobody and no
	// fallback operator is configured.
	ErrNoRecipients = errors.New("notify: no recipients")
)
