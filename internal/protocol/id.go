package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// idWidth is the wire width of an ID in bytes. IDs always serialize to
// the full width, padding included, so every encoded ID is the same
// length on the wire.
const idWidth = 8

// EncodedIDLen is the length of an ID in its base64 wire form.
var EncodedIDLen = base64.StdEncoding.EncodedLen(idWidth)

// ID identifies a player or a room. IDs are allocated by the
// coordinator by rejection sampling and travel over the wire as
// standard base64 of their big-endian byte representation.
type ID uint64

// String returns the wire form of the ID.
func (id ID) String() string {
	var buf [idWidth]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return base64.StdEncoding.EncodeToString(buf[:])
}

// ParseID decodes the wire form of an ID. Any input whose decoded
// length differs from the ID width is rejected.
func ParseID(s string) (ID, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	if len(data) != idWidth {
		return 0, fmt.Errorf("invalid id length: %d", len(data))
	}
	return ID(binary.BigEndian.Uint64(data)), nil
}

// MarshalJSON encodes the ID as a base64 JSON string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes an ID from its base64 JSON string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = v
	return nil
}
