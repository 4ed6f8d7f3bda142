// Package intake receives online orders placed on the website and adds
// them to the online order queue sheet.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/remote"
)

// ErrMalformed marks events that can never be processed.
var ErrMalformed = errors.New("malformed order event")

// Event is an order placed on the website.
type Event struct {
	Token string      `json:"token"`
	Items []EventItem `json:"items"`
}

// EventItem is one line of an Event.
type EventItem struct {
	Item        string `json:"item"`
	Quantity    int    `json:"quantity"`
	Temperature string `json:"temperature"`
	Sugar       int    `json:"sugar"`
	Creamer     int    `json:"creamer"`
	Milk        int    `json:"milk"`
	Chocolate   int    `json:"chocolate"`
}

// Order converts the event to a pending online order.
func (e Event) Order() (*order.Order, error) {
	token := strings.TrimSpace(e.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrMalformed)
	}
	if len(e.Items) == 0 {
		return nil, fmt.Errorf("%w: order %s has no items", ErrMalformed, token)
	}

	o := &order.Order{
		ID:            token,
		Token:         token,
		PaymentMethod: order.MethodOnline,
		Status:        order.StatusPending,
		Source:        order.SourceOnline,
	}
	for i, it := range e.Items {
		name := strings.TrimSpace(it.Item)
		if name == "" || it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: order %s item %d needs a name and a positive quantity", ErrMalformed, token, i)
		}
		temp := order.Hot
		if it.Temperature != "" {
			t, ok := order.ParseTemperature(it.Temperature)
			if !ok {
				return nil, fmt.Errorf("%w: order %s item %d: unknown temperature %q", ErrMalformed, token, i, it.Temperature)
			}
			temp = t
		}
		c := order.Customization{
			Temperature: temp,
			Sugar:       it.Sugar,
			Creamer:     it.Creamer,
			Milk:        it.Milk,
			Chocolate:   it.Chocolate,
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("%w: order %s item %d: %v", ErrMalformed, token, i, err)
		}
		o.Lines = append(o.Lines, order.Line{
			ItemID:        name,
			ItemName:      name,
			Requested:     it.Quantity,
			Customization: c,
		})
	}
	return o, nil
}

// Handler appends decoded orders to the queue sheet.
type Handler struct {
	store  remote.Store
	logger *slog.Logger
}

// NewHandler creates a handler writing to store.
func NewHandler(store remote.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// Handle decodes one event and queues its lines. Redelivered events whose
// lines are already queued are ignored. Returns ErrMalformed (wrapped) for
// events that should be skipped, REMOTE_UNAVAILABLE for events worth
// retrying.
func (h *Handler) Handle(ctx context.Context, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	o, err := ev.Order()
	if err != nil {
		return err
	}

	rows, err := h.store.ReadAll(ctx, remote.SheetOnlineQueue)
	if err != nil {
		return kioskerr.RemoteUnavailable("read online queue", err)
	}
	queued := 0
	for _, row := range rows {
		if strings.TrimSpace(row.Record[remote.ColQR]) == o.Token {
			queued++
		}
	}
	if queued >= len(o.Lines) {
		h.logger.Debug("order already queued", "token", o.Token)
		return nil
	}

	// Lines are appended in order, so a redelivery resumes after the rows
	// an earlier attempt managed to write.
	for _, l := range o.Lines[queued:] {
		if _, err := h.store.AppendRow(ctx, remote.SheetOnlineQueue, order.LineRecord(o, l)); err != nil {
			return kioskerr.RemoteUnavailable("queue order "+o.Token, err)
		}
	}
	h.logger.Info("online order queued", "token", o.Token, "lines", len(o.Lines))
	return nil
}
