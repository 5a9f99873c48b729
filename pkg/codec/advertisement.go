package codec

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// AD structure types carrying codec payloads.
const (
	TypeServiceUUIDs byte = 0x03
	TypeServiceData  byte = 0x16
	TypeManufacturer byte = 0xFF
)

// Advertisement is one AD structure of a BLE advertising payload.
// Flag, when non-zero, is emitted as a leading Flags structure.
type Advertisement struct {
	Type byte
	Raw  []byte
	Flag byte
}

// ParseAdvertisement walks the AD structures of a raw advertising payload and
// returns the last one whose type is 0x03, 0x16 or 0xFF.
func ParseAdvertisement(raw []byte) (*Advertisement, bool) {
	var found *Advertisement
	rem := raw
	for len(rem) > 2 {
		partLen := int(rem[0])
		partType := rem[1]
		end := min(partLen+1, len(rem))
		if partType == TypeServiceUUIDs || partType == TypeServiceData || partType == TypeManufacturer {
			var data []byte
			if end > 2 {
				data = bytes.Clone(rem[2:end])
			}
			found = &Advertisement{Type: partType, Raw: data}
		}
		rem = rem[end:]
	}
	return found, found != nil
}

// Bytes returns the over-the-air encoding: [len, type, raw...], prefixed by
// the Flags structure when Flag is set.
func (a Advertisement) Bytes() []byte {
	out := make([]byte, 0, len(a.Raw)+5)
	if a.Flag != 0 {
		out = append(out, 0x02, 0x01, a.Flag)
	}
	out = append(out, byte(len(a.Raw)+1), a.Type)
	return append(out, a.Raw...)
}

// Equal compares type and payload; the flag is not part of the identity.
func (a Advertisement) Equal(o Advertisement) bool {
	return a.Type == o.Type && bytes.Equal(a.Raw, o.Raw)
}

func (a Advertisement) String() string {
	return fmt.Sprintf("Type: 0x%02X, raw: %s", a.Type, Hex(a.Raw))
}

// Hex formats a buffer as dot separated upper case bytes: F0.08.10.
func Hex(b []byte) string {
	var sb strings.Builder
	for i, x := range b {
		if i > 0 {
			sb.WriteByte('.')
		}
		fmt.Fprintf(&sb, "%02X", x)
	}
	return sb.String()
}

// ParseHex accepts plain or separated hex (".", ":", "-", " ") and returns the bytes.
func ParseHex(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '.', ':', '-', ' ', '\t', '\n':
			return -1
		}
		return r
	}, s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return out, nil
}
