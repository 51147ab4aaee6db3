package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDStringRoundTrip(t *testing.T) {
	ids := []ID{0, 1, 42, 1 << 32, 0xDEADBEEFCAFEBABE, ^ID(0)}
	for _, id := range ids {
		s := id.String()
		assert.Len(t, s, EncodedIDLen)
		got, err := ParseID(s)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestIDKnownEncoding(t *testing.T) {
	// Big-endian 8 bytes, standard alphabet, padding kept.
	assert.Equal(t, "AAAAAAAAAAA=", ID(0).String())
	assert.Equal(t, "AAAAAAAAAAE=", ID(1).String())
	assert.Equal(t, "//////////8=", (^ID(0)).String())
}

func TestParseIDRejects(t *testing.T) {
	cases := map[string]string{
		"not base64":    "!!!!",
		"empty":         "",
		"short payload": "AAAA",
		"long payload":  "AAAAAAAAAAAAAAAA",
		"no padding":    "AAAAAAAAAAA",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseID(in)
			assert.Error(t, err)
		})
	}
}

func TestIDJSON(t *testing.T) {
	data, err := json.Marshal(ID(1))
	require.NoError(t, err)
	assert.Equal(t, `"AAAAAAAAAAE="`, string(data))

	var id ID
	require.NoError(t, json.Unmarshal(data, &id))
	assert.Equal(t, ID(1), id)

	assert.Error(t, json.Unmarshal([]byte(`"AAAA"`), &id))
	assert.Error(t, json.Unmarshal([]byte(`17`), &id))
}
