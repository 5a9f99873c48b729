package codec

import (
	"crypto/aes"
	"encoding/binary"
	"math/rand/v2"
)

// Whiten applies (and removes) the 7-bit LFSR whitening used by most vendors.
func Whiten(buf []byte, seed byte) []byte {
	out := make([]byte, len(buf))
	r := uint(seed)
	for i, val := range buf {
		var b byte
		for j := 0; j < 8; j++ {
			r <<= 1
			if r&0x80 != 0 {
				r ^= 0x11
				b |= 1 << j
			}
			r &= 0x7F
		}
		out[i] = val ^ b
	}
	return out
}

// Whiten16 is the 16-bit LFSR variant, MSB first, with a fixed xor.
func Whiten16(buf []byte, seed uint16, param uint16, xorer byte) []byte {
	out := make([]byte, len(buf))
	r := seed
	for i, val := range buf {
		var b byte
		for j := 0; j < 8; j++ {
			high := r & 0x8000
			r <<= 1
			if high != 0 {
				r ^= param
				b |= 1 << (7 - j)
			}
			if r == 0 {
				r = 1061
			}
		}
		out[i] = val ^ xorer ^ b
	}
	return out
}

// ReverseByte mirrors the bits of x: 1100 1010 => 0101 0011.
func ReverseByte(x byte) byte {
	x = (x&0x55)<<1 | (x&0xAA)>>1
	x = (x&0x33)<<2 | (x&0xCC)>>2
	return (x&0x0F)<<4 | (x&0xF0)>>4
}

// ReverseAll mirrors the bits of every byte.
func ReverseAll(buf []byte) []byte {
	out := make([]byte, len(buf))
	for i, x := range buf {
		out[i] = ReverseByte(x)
	}
	return out
}

// CRC16CCITT is the MSB first CCITT crc (poly 0x1021) with an explicit seed.
func CRC16CCITT(buf []byte, seed uint16) uint16 {
	crc := seed
	for _, b := range buf {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16LE is the reflected crc16 family; refIn and refOut invert the
// register before and after processing.
func CRC16LE(buf []byte, seed, poly uint16, refIn, refOut bool) uint16 {
	crc := seed
	if refIn {
		crc ^= 0xFFFF
	}
	for _, b := range buf {
		crc ^= uint16(b)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
	}
	if refOut {
		crc ^= 0xFFFF
	}
	return crc
}

// Sum8 is the byte sum modulo 256.
func Sum8(buf []byte) byte {
	var s byte
	for _, b := range buf {
		s += b
	}
	return s
}

// AESSign16 encrypts one block with AES-128 ECB and returns the first two
// bytes of the cipher text, little endian.
func AESSign16(key, block []byte) uint16 {
	c, err := aes.NewCipher(key)
	if err != nil {
		// key is always 16 bytes
		panic(err)
	}
	out := make([]byte, aes.BlockSize)
	c.Encrypt(out, block)
	return binary.LittleEndian.Uint16(out)
}

// RandomSeed returns a pseudo random value in [lo, hi].
func RandomSeed(lo, hi int) int {
	return lo + rand.IntN(hi-lo+1)
}
