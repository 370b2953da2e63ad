package wire

import (
	"fmt"
	"strconv"
)

const TypeField = "type"

// Message is one opaque key/value frame.
type Message map[string]any

type Kind uint8

const (
	KindUnknown Kind = iota
	KindJoin
	KindResume
	KindLeave
	KindPing
	KindPong
	KindError
	KindJoined
	KindResumed
	KindTicket
	KindState
	KindGameStarting
	KindRoundComplete
	KindRoundAck
	KindDecodeError
	numKinds
)

var kindNames = [numKinds]string{
	KindUnknown:       "unknown",
	KindJoin:          "join",
	KindResume:        "resume",
	KindLeave:         "leave",
	KindPing:          "ping",
	KindPong:          "pong",
	KindError:         "error",
	KindJoined:        "joined",
	KindResumed:       "resumed",
	KindTicket:        "ticket",
	KindState:         "state",
	KindGameStarting:  "game_starting",
	KindRoundComplete: "round_complete",
	KindRoundAck:      "round_ack",
	KindDecodeError:   "decode_error",
}

func (k Kind) String() string {
	if k >= numKinds {
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// ParseKind maps a named discriminator to its Kind.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindUnknown {
			return Kind(k)
		}
	}
	return KindUnknown
}

// KindOf resolves the discriminator of m in either dialect.
func KindOf(m Message) Kind {
	switch v := m[TypeField].(type) {
	case string:
		return ParseKind(v)
	default:
		n, ok := toInt(v)
		if !ok || n <= 0 || n >= int64(numKinds) {
			return KindUnknown
		}
		return Kind(n)
	}
}

// Dialect selects how a phase writes the discriminator.
type Dialect uint8

const (
	Named Dialect = iota
	Numeric
)

func (d Dialect) String() string {
	if d == Numeric {
		return "numeric"
	}
	return "named"
}

// New builds a message of kind k with optional key/value pairs.
func (d Dialect) New(k Kind, kv ...any) Message {
	m := Message{}
	if d == Numeric {
		m[TypeField] = uint8(k)
	} else {
		m[TypeField] = k.String()
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		m[key] = kv[i+1]
	}
	return m
}

// DialectOf reports which dialect m was written in. Messages without a
// usable discriminator count as Named.
func DialectOf(m Message) Dialect {
	if _, ok := toInt(m[TypeField]); ok {
		return Numeric
	}
	return Named
}

// Rewrite returns a copy of m with its discriminator in dialect d. Unknown
// kinds are returned unchanged.
func (d Dialect) Rewrite(m Message) Message {
	k := KindOf(m)
	if k == KindUnknown || DialectOf(m) == d {
		return m
	}
	out := make(Message, len(m))
	for key, v := range m {
		out[key] = v
	}
	if d == Numeric {
		out[TypeField] = uint8(k)
	} else {
		out[TypeField] = k.String()
	}
	return out
}

// DecodeErrorMessage wraps a framing failure so it can travel the normal
// message path.
func DecodeErrorMessage(err error, size int) Message {
	return Message{
		TypeField: KindDecodeError.String(),
		"error":   err.Error(),
		"size":    size,
	}
}

func (m Message) Kind() Kind { return KindOf(m) }

// Str returns the string at key, or "" when missing or not a string.
func (m Message) Str(key string) string {
	s, _ := m[key].(string)
	return s
}

// Int returns the integer at key regardless of its encoded width.
func (m Message) Int(key string) (int64, bool) {
	return toInt(m[key])
}

// Code returns the error code of an error message.
func (m Message) Code() string { return m.Str("code") }

func (m Message) String() string {
	return fmt.Sprintf("%s%v", KindOf(m), map[string]any(m))
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > 1<<62 {
			return 0, false
		}
		return int64(n), true
	case float32:
		if n != float32(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
