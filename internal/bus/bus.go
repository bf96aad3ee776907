package bus

import (
	"context"
	"fmt"
)

// Message is one payload delivered on a channel. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Message struct {
	Channel string
	Payload []byte
}

// Bus is the notification primitive the engine publishes on. One client
// is constructed per process and passed explicitly to whoever needs it.
type Bus interface {
	Publish(ctx context.Context, channel string, payload any) error
	// Subscribe returns a receive channel and a cancel func that tears
	// the subscription down. The receive channel is closed on cancel.
	Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error)
}

// Channel naming. Per-driver, per-customer and per-booking channels plus
// one global live feed.
const FeedChannel = "feed"

func DriverChannel(driverID int64) string   { return fmt.Sprintf("driver:%d", driverID) }
func CustomerChannel(customerID int64) string { return fmt.Sprintf("customer:%d", customerID) }
func BookingChannel(requestID int64) string { return fmt.Sprintf("booking:%d", requestID) }
