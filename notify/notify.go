/*
Package notify is the boundary to the notification collaborator.

Delivery transport is out of scope; the engine only needs a
fire-and-forget Notify whose failures never roll back the triggering
transaction.
*/
package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers a message to a user. Implementations must be safe
// to call from sweep goroutines.
type Notifier interface {
	Notify(ctx context.Context, userID, role, subjectID, text string) error
}

// Log is a Notifier that records messages to a structured logger.
// Stands in for the real delivery service in dev and tests.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) Notify(_ context.Context, userID, role, subjectID, text string) error {
	l.Logger.Info("notify",
		"user_id", userID,
		"role", role,
		"subject_id", subjectID,
		"text", text,
	)
	return nil
}

// Func adapts a function to the Notifier interface. Handy in tests.
type Func func(ctx context.Context, userID, role, subjectID, text string) error

func (f Func) Notify(ctx context.Context, userID, role, subjectID, text string) error {
	return f(ctx, userID, role, subjectID, text)
}
