package xledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Codec is the Strategy for encoding/decoding envelopes and payload views on
// the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// EncodeRecord serializes a log record for broker fan-out.
func EncodeRecord(c Codec, rec Record) ([]byte, error) {
	if c == nil {
		c = JSONCodec{}
	}
	return c.Marshal(rec)
}

// DecodeRecord deserializes a broker frame back into a log record.
func DecodeRecord(c Codec, data []byte) (Record, error) {
	if c == nil {
		c = JSONCodec{}
	}
	var rec Record
	if err := c.Unmarshal(data, &rec); err != nil {
		return Record{}, &ValidationError{Reason: fmt.Sprintf("broker frame: %v", err)}
	}
	return rec, nil
}

// Decode builds a typed view of an event payload. Call it only on
// upcast-current events: the consumer guarantees handlers never see a payload
// older than the registry's latest version.
func Decode[T any](c Codec, ev Event) (T, error) {
	var v T
	if c == nil {
		c = JSONCodec{}
	}
	data, err := c.Marshal(ev.Payload)
	if err != nil {
		return v, &ValidationError{Reason: fmt.Sprintf("payload encode: %v", err)}
	}
	if err := c.Unmarshal(data, &v); err != nil {
		return v, &ValidationError{Reason: fmt.Sprintf("payload decode: %v", err)}
	}
	return v, nil
}
