package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/arloliu/jobline/types"
)

// Codec encodes job events for the wire.
type Codec interface {
	// Name is the codec name used in configuration ("json" or "msgpack").
	Name() string
	// ContentType is the MIME type set on published messages.
	ContentType() string
	Marshal(evt types.JobEvent) ([]byte, error)
	Unmarshal(data []byte) (types.JobEvent, error)
}

// JSONCodec encodes events as JSON.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// ContentType implements Codec.
func (JSONCodec) ContentType() string { return "application/json" }

// Marshal implements Codec.
func (JSONCodec) Marshal(evt types.JobEvent) ([]byte, error) {
	return json.Marshal(evt)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte) (types.JobEvent, error) {
	var evt types.JobEvent
	err := json.Unmarshal(data, &evt)

	return evt, err
}

// MsgpackCodec encodes events as msgpack.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return "msgpack" }

// ContentType implements Codec.
func (MsgpackCodec) ContentType() string { return "application/msgpack" }

// Marshal implements Codec.
func (MsgpackCodec) Marshal(evt types.JobEvent) ([]byte, error) {
	return msgpack.Marshal(&evt)
}

// Unmarshal implements Codec.
func (MsgpackCodec) Unmarshal(data []byte) (types.JobEvent, error) {
	var evt types.JobEvent
	err := msgpack.Unmarshal(data, &evt)

	return evt, err
}

// CodecByName returns the codec for name. An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown event codec %q", name)
	}
}
