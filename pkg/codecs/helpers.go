package codecs

import "github.com/srg/bleadv/pkg/codec"

// expect returns the first failed check.
func expect(checks ...error) error {
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func reject(err error) (codec.EncoderCommand, codec.DeviceConfig, error) {
	return codec.EncoderCommand{}, codec.DeviceConfig{}, err
}

func xorAll(buf []byte, pivot byte) []byte {
	out := make([]byte, len(buf))
	for i, v := range buf {
		out[i] = v ^ pivot
	}
	return out
}

func zeros(n int) []byte {
	return make([]byte, n)
}
