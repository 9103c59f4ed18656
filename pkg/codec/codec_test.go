package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelopeSample struct {
	ID      uint64 `json:"id" msgpack:"id"`
	Payload Raw    `json:"payload" msgpack:"payload"`
}

func TestByName(t *testing.T) {
	cd, err := ByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", cd.Name())

	cd, err = ByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", cd.Name())

	cd, err = ByName("MsgPack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", cd.Name())

	_, err = ByName("xml")
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestFieldsKeepOrder(t *testing.T) {
	for _, cd := range []Codec{JSON, Msgpack} {
		t.Run(cd.Name(), func(t *testing.T) {
			keys := []string{"zeta", "alpha", "mid", "beta"}
			fields := make([]Field, 0, len(keys))
			for i, k := range keys {
				raw, err := cd.Marshal(i)
				require.NoError(t, err)
				fields = append(fields, Field{Key: k, Value: raw})
			}

			data, err := cd.MarshalFields(fields)
			require.NoError(t, err)

			decoded, err := cd.UnmarshalFields(data)
			require.NoError(t, err)
			require.Len(t, decoded, len(keys))
			for i, f := range decoded {
				assert.Equal(t, keys[i], f.Key)
				var v int
				require.NoError(t, cd.Unmarshal(f.Value, &v))
				assert.Equal(t, i, v)
			}

			again, err := cd.MarshalFields(decoded)
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestUnmarshalFieldsRejectsNonDocument(t *testing.T) {
	_, err := JSON.UnmarshalFields([]byte(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrNotDocument)

	arr, err := Msgpack.Marshal([]int{1, 2})
	require.NoError(t, err)
	_, err = Msgpack.UnmarshalFields(arr)
	assert.ErrorIs(t, err, ErrNotDocument)
}

func TestRawPassThrough(t *testing.T) {
	for _, cd := range []Codec{JSON, Msgpack} {
		t.Run(cd.Name(), func(t *testing.T) {
			inner, err := cd.Marshal(map[string]any{"entity": "42"})
			require.NoError(t, err)

			data, err := cd.Marshal(envelopeSample{ID: 7, Payload: inner})
			require.NoError(t, err)

			var out envelopeSample
			require.NoError(t, cd.Unmarshal(data, &out))
			assert.Equal(t, uint64(7), out.ID)
			assert.Equal(t, []byte(inner), []byte(out.Payload))

			var payload map[string]string
			require.NoError(t, cd.Unmarshal(out.Payload, &payload))
			assert.Equal(t, "42", payload["entity"])
		})
	}
}

func TestRawIsNull(t *testing.T) {
	assert.True(t, Raw(nil).IsNull())
	assert.True(t, Raw("null").IsNull())
	assert.True(t, Raw{0xc0}.IsNull())
	assert.False(t, Raw(`{}`).IsNull())
}

func TestLookup(t *testing.T) {
	fields := []Field{{Key: "a", Value: Raw("1")}, {Key: "b", Value: Raw("2")}}
	v, ok := Lookup(fields, "b")
	require.True(t, ok)
	assert.Equal(t, Raw("2"), v)

	_, ok = Lookup(fields, "c")
	assert.False(t, ok)
}
