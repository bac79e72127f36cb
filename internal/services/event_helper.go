package services

import (
	"context"
	"time"

	"github.com/aloy/roommate-booking/internal/models"
	"github.com/aloy/roommate-booking/pkg/events"
	"github.com/sirupsen/logrus"
)

// publishEvent sends a booking event after the owning transaction has
// committed. Delivery is best effort: failures are logged and dropped.
func publishEvent(ctx context.Context, publisher events.Publisher, logger *logrus.Logger, event models.BookingEvent) {
	if publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := publisher.PublishJSON(ctx, event.Type, event); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"event":        event.Type,
			"apartment_id": event.ApartmentID,
		}).Warn("Failed to publish booking event")
	}
}
