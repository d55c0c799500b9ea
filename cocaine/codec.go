package cocaine

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// message types of the streaming protocols
const (
	typeWrite = 0
	typeError = 1
	typeClose = 2

	// primitive protocol: value or error
	typeValue = 0
)

// frame is a single message on the wire. When sending, args is encoded as
// is. When receiving, the arguments are kept raw until the channel knows
// what to decode them into.
type frame struct {
	channel uint64
	typ     uint64
	args    any
	raw     msgpack.RawMessage
	headers map[string][]byte
}

var (
	_ msgpack.CustomEncoder = (*frame)(nil)
	_ msgpack.CustomDecoder = (*frame)(nil)
)

func (f *frame) EncodeMsgpack(enc *msgpack.Encoder) error {
	n := 3
	if len(f.headers) > 0 {
		n = 4
	}

	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}

	if err := enc.EncodeUint(f.channel); err != nil {
		return err
	}

	if err := enc.EncodeUint(f.typ); err != nil {
		return err
	}

	args := f.args
	if args == nil {
		args = []any{}
	}

	if err := enc.Encode(args); err != nil {
		return err
	}

	if n == 4 {
		return enc.Encode(f.headers)
	}

	return nil
}

func (f *frame) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}

	if n != 3 && n != 4 {
		return fmt.Errorf("%w: invalid frame length: %d", errProtocol, n)
	}

	if f.channel, err = dec.DecodeUint64(); err != nil {
		return err
	}

	if f.typ, err = dec.DecodeUint64(); err != nil {
		return err
	}

	if f.raw, err = dec.DecodeRaw(); err != nil {
		return err
	}

	if n == 4 {
		return dec.Decode(&f.headers)
	}

	return nil
}

// errorID and errorArgs are the arguments of an error message:
// [[category, code], message]
type errorID struct {
	_msgpack struct{} `msgpack:",as_array"`
	Category int
	Code     int
}

type errorArgs struct {
	_msgpack struct{} `msgpack:",as_array"`
	ID       errorID
	Message  string
}

type chunkArgs struct {
	_msgpack struct{} `msgpack:",as_array"`
	Chunk    []byte
}

func decodeError(raw msgpack.RawMessage) error {
	var a errorArgs
	if err := msgpack.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("%w: invalid error message: %w", errProtocol, err)
	}

	return &ServiceError{Category: a.ID.Category, Code: a.ID.Code, Message: a.Message}
}

func decodeChunk(raw msgpack.RawMessage) ([]byte, error) {
	var a chunkArgs
	if err := msgpack.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: invalid chunk: %w", errProtocol, err)
	}

	return a.Chunk, nil
}

// decodeArgs decodes the argument tuple of a value or write message into v,
// which is usually a struct tagged as_array.
func decodeArgs(raw msgpack.RawMessage, v any) error {
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid arguments: %w", errProtocol, err)
	}

	return nil
}
