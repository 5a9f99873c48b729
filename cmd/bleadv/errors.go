package main

import (
	"errors"
	"fmt"

	"github.com/srg/bleadv/internal/adapter"
	"github.com/srg/bleadv/pkg/codec"
	"github.com/srg/bleadv/pkg/codecs"
	"github.com/srg/bleadv/pkg/config"
	"github.com/srg/bleadv/pkg/coordinator"
	"github.com/srg/bleadv/pkg/device"
)

// Command-level errors
var (
	// ErrNoAdapter is returned when no adapter came up before the wait
	// timeout of send or scan.
	ErrNoAdapter = errors.New("no adapter available")
	// ErrNoMatch is returned by decode when no codec recognises the input.
	ErrNoMatch      = errors.New("no codec matches")
	ErrInvalidInput = errors.New("invalid input")
)

// userHints turns well known failures into an actionable sentence.
var userHints = []struct {
	err  error
	hint string
}{
	{ErrNoAdapter, "no Bluetooth adapter is usable: check that a controller is powered, run with CAP_NET_ADMIN, or configure an MQTT proxy"},
	{codecs.ErrUnknownCodec, "unknown codec: run 'bleadv codecs' for the list"},
	{codec.ErrInvalidHex, "invalid hex input"},
	{coordinator.ErrUnknownAdapter, "unknown adapter: check the adapter names printed by 'bleadv scan'"},
	{adapter.ErrDisallowed, "the controller refused the command (advertising is probably owned by bluetoothd)"},
	{adapter.ErrAdapterTimeout, "the adapter did not answer in time"},
	{config.ErrInvalidConfig, "invalid configuration"},
	{device.ErrNoCommand, "the codec cannot express this change"},
}

// FormatUserError returns the message printed for err on exit.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	for _, h := range userHints {
		if errors.Is(err, h.err) {
			return fmt.Sprintf("%s (%v)", h.hint, err)
		}
	}
	return err.Error()
}
