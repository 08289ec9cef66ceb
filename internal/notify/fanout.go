// Package notify fans order status changes out to non-saga consumers: the
// Redis latest-status cache and the realtime websocket feed.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sink receives a status change for durable side channels such as the cache.
type Sink interface {
	SetStatus(ctx context.Context, orderID, status string, at time.Time) error
}

// Broadcaster pushes a frame to every connected realtime client.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// StatusFrame is the wire shape pushed to realtime clients.
type StatusFrame struct {
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Fanout forwards a status change to each sink and the broadcaster.
type Fanout struct {
	sinks       []Sink
	broadcaster Broadcaster
}

// NewFanout constructs a Fanout. broadcaster may be nil.
func NewFanout(broadcaster Broadcaster, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, broadcaster: broadcaster}
}

// NotifyStatus forwards the change to each sink, collecting errors so every
// sink gets a chance to write, then broadcasts the frame.
func (f *Fanout) NotifyStatus(ctx context.Context, orderID, status string, at time.Time) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.SetStatus(ctx, orderID, status, at); err != nil {
			errs = append(errs, err)
		}
	}

	if f.broadcaster != nil {
		frame, err := json.Marshal(StatusFrame{
			Type:      "order_status",
			OrderID:   orderID,
			Status:    status,
			UpdatedAt: at,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			f.broadcaster.Broadcast(frame)
		}
	}

	return errors.Join(errs...)
}
