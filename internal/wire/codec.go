package wire

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrNotAMap = errors.New("wire: frame is not a message map")

func Encode(m Message) ([]byte, error) {
	data, err := msgpack.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", KindOf(m), err)
	}
	return data, nil
}

func Decode(data []byte) (Message, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	if m == nil {
		return nil, ErrNotAMap
	}
	return Message(m), nil
}
