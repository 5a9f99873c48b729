//go:build test

// Package testutils holds helpers shared by the package tests: fake
// sockets, HCI and MGMT frame builders, go-ble advertisements and output
// assertions.
package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleadv/pkg/codec"
)

// NewLogger returns a debug level logger writing through t.Log.
func NewLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // track execution flow in failing tests
	logger.SetOutput(testWriter{t})
	return logger
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	// background goroutines may still log once the test has completed
	defer func() { _ = recover() }()
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// MustHex parses dotted or plain hex and panics on error.
func MustHex(s string) []byte {
	b, err := codec.ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}
