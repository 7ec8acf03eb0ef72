package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidRecord indicates a stored record could not be decoded or is
// missing required fields.
var ErrInvalidRecord = errors.New("invalid cache record")

// ErrRecordTooLarge indicates an encoded record exceeds a LimitCodec's size.
var ErrRecordTooLarge = errors.New("cache record too large")

// Codec serializes records for the store.
type Codec interface {
	Encode(rec *Record) ([]byte, error)
	Decode(data []byte) (*Record, error)
	Name() string
}

// JSONCodec stores records as JSON. It is the default.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("cache record cannot be nil")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal cache record: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return checkRecord(&rec)
}

// MsgpackCodec stores records as MessagePack, which avoids base64-encoding
// the body.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("cache record cannot be nil")
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal cache record: %w", err)
	}
	return data, nil
}

func (MsgpackCodec) Decode(data []byte) (*Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return checkRecord(&rec)
}

// LimitCodec wraps another codec and refuses encoded records larger than
// MaxSize bytes, on both Encode and Decode. MaxSize <= 0 disables the check.
type LimitCodec struct {
	Inner   Codec
	MaxSize int
}

func (c LimitCodec) Name() string { return c.Inner.Name() }

func (c LimitCodec) Encode(rec *Record) ([]byte, error) {
	data, err := c.Inner.Encode(rec)
	if err != nil {
		return nil, err
	}
	if c.MaxSize > 0 && len(data) > c.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrRecordTooLarge, len(data), c.MaxSize)
	}
	return data, nil
}

func (c LimitCodec) Decode(data []byte) (*Record, error) {
	if c.MaxSize > 0 && len(data) > c.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrRecordTooLarge, len(data), c.MaxSize)
	}
	return c.Inner.Decode(data)
}

// CodecByName returns the codec registered under name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown cache codec %q", name)
	}
}

func checkRecord(rec *Record) (*Record, error) {
	if rec.StatusCode == 0 {
		return nil, fmt.Errorf("%w: missing status code", ErrInvalidRecord)
	}
	if rec.Header == nil {
		rec.Header = make(map[string][]string)
	}
	return rec, nil
}
