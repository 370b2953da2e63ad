package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestKindOf_BothDialectsSurviveTheCodec(t *testing.T) {
	for _, d := range []Dialect{Named, Numeric} {
		for k := KindJoin; k < numKinds; k++ {
			data, err := Encode(d.New(k))
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, k, got.Kind(), "dialect %s kind %s", d, k)
		}
	}
}

func TestKindOf_UnknownDiscriminators(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{name: "missing type", msg: Message{}},
		{name: "unknown name", msg: Message{TypeField: "teleport"}},
		{name: "out of range code", msg: Message{TypeField: 200}},
		{name: "zero code", msg: Message{TypeField: 0}},
		{name: "bool", msg: Message{TypeField: true}},
		{name: "name of unknown", msg: Message{TypeField: "unknown"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, KindUnknown, KindOf(tc.msg))
		})
	}
}

func TestDecode_RejectsNonMapFrames(t *testing.T) {
	notMap, err := msgpack.Marshal("hello")
	require.NoError(t, err)
	nilFrame, err := msgpack.Marshal(nil)
	require.NoError(t, err)

	for name, frame := range map[string][]byte{
		"string": notMap,
		"nil":    nilFrame,
		"empty":  {},
		"junk":   {0xc1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(frame)
			require.Error(t, err)
		})
	}
}

func TestNew_CarriesFields(t *testing.T) {
	m := Named.New(KindResume, "ticket", "T1", "game", "ABC123")
	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "T1", got.Str("ticket"))
	assert.Equal(t, "ABC123", got.Str("game"))

	ack, err := Decode(mustEncode(t, Numeric.New(KindRoundAck, "round", 3)))
	require.NoError(t, err)
	round, ok := ack.Int("round")
	require.True(t, ok)
	assert.EqualValues(t, 3, round)
}

func TestDecodeErrorMessage(t *testing.T) {
	_, err := Decode([]byte{0xc1})
	m := DecodeErrorMessage(err, 1)
	assert.Equal(t, KindDecodeError, m.Kind())
	assert.NotEmpty(t, m.Str("error"))
}

func TestDialect_Rewrite(t *testing.T) {
	named := Named.New(KindRoundComplete, "round", 2)

	numeric := Numeric.Rewrite(named)
	assert.Equal(t, Numeric, DialectOf(numeric))
	assert.Equal(t, KindRoundComplete, numeric.Kind())
	assert.Equal(t, named["round"], numeric["round"])
	assert.Equal(t, Named, DialectOf(named), "original untouched")

	back := Named.Rewrite(numeric)
	assert.Equal(t, "round_complete", back[TypeField])

	unknown := Message{TypeField: "wat"}
	assert.Equal(t, unknown, Numeric.Rewrite(unknown))
}

func mustEncode(t *testing.T, m Message) []byte {
	t.Helper()
	data, err := Encode(m)
	require.NoError(t, err)
	return data
}

func TestDecode_Float32Numbers(t *testing.T) {
	m, err := Decode(mustEncode(t, Message{
		TypeField: float32(KindRoundComplete),
		"round":   float32(4),
		"half":    float32(1.5),
	}))
	require.NoError(t, err)
	assert.IsType(t, float32(0), m["round"])
	assert.Equal(t, KindRoundComplete, m.Kind())

	round, ok := m.Int("round")
	require.True(t, ok)
	assert.EqualValues(t, 4, round)

	_, ok = m.Int("half")
	assert.False(t, ok, "fractional values are not integers")
}
