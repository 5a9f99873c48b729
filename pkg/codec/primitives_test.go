package codec_test

import (
	"testing"

	"github.com/srg/bleadv/pkg/codec"
	"github.com/stretchr/testify/assert"
)

var check = []byte("123456789")

func TestWhitenIsInvolution(t *testing.T) {
	for _, seed := range []byte{0x37, 0x48, 0x69, 0x6F, 0x7F} {
		assert.Equal(t, check, codec.Whiten(codec.Whiten(check, seed), seed))
	}
	assert.NotEqual(t, check, codec.Whiten(check, 0x6F))
}

func TestWhiten16IsInvolution(t *testing.T) {
	enc := codec.Whiten16(check, 0x0E03, 4777, 73)
	assert.NotEqual(t, check, enc)
	assert.Equal(t, check, codec.Whiten16(enc, 0x0E03, 4777, 73))
}

func TestReverse(t *testing.T) {
	assert.Equal(t, byte(0x53), codec.ReverseByte(0xCA))
	assert.Equal(t, byte(0x80), codec.ReverseByte(0x01))
	assert.Equal(t, []byte{0x00, 0xFF, 0x53}, codec.ReverseAll([]byte{0x00, 0xFF, 0xCA}))
}

func TestCRC16(t *testing.T) {
	// CCITT-FALSE check value
	assert.Equal(t, uint16(0x29B1), codec.CRC16CCITT(check, 0xFFFF))
	// XMODEM check value
	assert.Equal(t, uint16(0x31C3), codec.CRC16CCITT(check, 0))
	// X-25 check value
	assert.Equal(t, uint16(0x906E), codec.CRC16LE(check, 0, 0x8408, true, true))
	// KERMIT check value
	assert.Equal(t, uint16(0x2189), codec.CRC16LE(check, 0, 0x8408, false, false))
}

func TestSum8(t *testing.T) {
	assert.Equal(t, byte(0xDD), codec.Sum8(check))
	assert.Equal(t, byte(0x00), codec.Sum8([]byte{0x80, 0x80}))
}

func TestAESSign16(t *testing.T) {
	key := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}
	block := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	// FIPS-197 C.1 cipher text starts with 69 C4
	assert.Equal(t, uint16(0xC469), codec.AESSign16(key, block))
}

func TestRandomSeed(t *testing.T) {
	for range 100 {
		v := codec.RandomSeed(1, 0xF5)
		assert.GreaterOrEqual(t, v, 1)
		assert.LessOrEqual(t, v, 0xF5)
	}
}
