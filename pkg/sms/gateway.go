// Package sms sends transactional text messages through an HTTP SMS gateway.
package sms

import "context"

// Gateway sends a single text message
type Gateway interface {
	// Send delivers message to phone and returns the gateway's transaction id
	Send(ctx context.Context, phone, message string) (int64, error)

	// Name returns the name of the gateway implementation
	Name() string
}
