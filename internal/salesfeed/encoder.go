// Package salesfeed streams sales records to Kafka, Avro encoded, so
// back-office consumers see sales without polling the sales sheet.
package salesfeed

import (
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/roach88/kopikiosk/internal/sales"
)

// SaleSchema is the Avro schema of a published sale.
const SaleSchema = `{
  "type": "record",
  "name": "Sale",
  "namespace": "kopikiosk",
  "fields": [
    {"name": "id", "type": "string"},
    {"name": "time_ms", "type": "long"},
    {"name": "order_id", "type": "string"},
    {"name": "item", "type": "string"},
    {"name": "temperature", "type": "string"},
    {"name": "composition", "type": "string"},
    {"name": "quantity", "type": "int"},
    {"name": "unit_price", "type": "long"},
    {"name": "total", "type": "long"},
    {"name": "payment_method", "type": "string"}
  ]
}`

// Encoder wraps a goavro codec for sales records.
type Encoder struct {
	codec *goavro.Codec
	mu    sync.Mutex
}

// NewEncoder compiles SaleSchema.
func NewEncoder() (*Encoder, error) {
	codec, err := goavro.NewCodec(SaleSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	return &Encoder{codec: codec}, nil
}

// Encode converts a record to Avro binary.
func (e *Encoder) Encode(r sales.Record) ([]byte, error) {
	native := map[string]interface{}{
		"id":             r.ID,
		"time_ms":        r.Time.UnixMilli(),
		"order_id":       r.OrderID,
		"item":           r.ItemName,
		"temperature":    r.Temperature,
		"composition":    r.Composition,
		"quantity":       int32(r.Quantity),
		"unit_price":     r.UnitPrice,
		"total":          r.Total,
		"payment_method": r.PaymentMethod,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	binary, err := e.codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale to avro: %w", err)
	}
	return binary, nil
}

// Decode is the inverse of Encode. Used by consumers and tests.
func (e *Encoder) Decode(b []byte) (map[string]interface{}, error) {
	native, _, err := e.codec.NativeFromBinary(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode avro sale: %w", err)
	}
	m, ok := native.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("decoded sale is %T, want record", native)
	}
	return m, nil
}
