// Package notify delivers user notifications to the outside world.
package notify

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Log writes notifications to the standard logger. It is the fallback when no
// push gateway or broker is configured.
type Log struct{}

func (Log) Notify(_ context.Context, n models.Notification) error {
	log.WithField("user", n.UserID).
		WithField("kind", n.Kind).
		Info(n.Title)
	return nil
}

// Multi fans a notification out to every notifier. Each one is tried even
// when an earlier one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n models.Notification) error {
	var first error
	for _, sink := range m {
		if err := sink.Notify(ctx, n); err != nil {
			log.WithError(err).WithField("kind", n.Kind).Warn("notification delivery failed")
			if first == nil {
				first = err
			}
		}
	}
	return errors.Wrap(first, "notify")
}
