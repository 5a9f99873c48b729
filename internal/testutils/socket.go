//go:build test

package testutils

import (
	"context"
	"slices"
	"sync"

	"github.com/srg/bleadv/internal/asyncsock"
)

// FakeSocket is an in-memory asyncsock.Socket. OnSend, when set, is called
// synchronously for every SendAll and may Inject replies.
type FakeSocket struct {
	mu sync.Mutex

	Name                string
	Family, Type, Proto int
	Bound               []asyncsock.Addr
	Options             [][]byte
	Sent                [][]byte
	OpenErr, BindErr    error
	SendErr             error
	Started, Closed     bool
	OnSend              func(s *FakeSocket, data []byte)

	recv    asyncsock.RecvFunc
	onClose asyncsock.CloseFunc
}

func (s *FakeSocket) Open(_ context.Context, name string, recv asyncsock.RecvFunc, onClose asyncsock.CloseFunc, family, typ, proto int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return -1, s.OpenErr
	}
	s.Name, s.Family, s.Type, s.Proto = name, family, typ, proto
	s.recv, s.onClose = recv, onClose
	s.Closed = false
	return 3, nil
}

func (s *FakeSocket) Bind(_ context.Context, addr asyncsock.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BindErr != nil {
		return s.BindErr
	}
	s.Bound = append(s.Bound, addr)
	return nil
}

func (s *FakeSocket) SetSockopt(_ context.Context, _, _ int, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Options = append(s.Options, slices.Clone(value))
	return nil
}

func (s *FakeSocket) SendAll(_ context.Context, data []byte) error {
	s.mu.Lock()
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	s.Sent = append(s.Sent, slices.Clone(data))
	onSend := s.OnSend
	s.mu.Unlock()

	if onSend != nil {
		onSend(s, data)
	}
	return nil
}

func (s *FakeSocket) StartRecv(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started = true
	return nil
}

func (s *FakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started = false
	s.Closed = true
	return nil
}

// Inject delivers data as if received from the kernel.
func (s *FakeSocket) Inject(data []byte) {
	s.mu.Lock()
	recv := s.recv
	s.mu.Unlock()
	if recv != nil {
		recv(slices.Clone(data))
	}
}

// PeerClose simulates the peer closing a socket whose receive loop runs.
func (s *FakeSocket) PeerClose() {
	s.mu.Lock()
	started, onClose := s.Started, s.onClose
	s.Started = false
	s.mu.Unlock()
	if started && onClose != nil {
		onClose()
	}
}

// SentPackets returns a copy of everything sent so far.
func (s *FakeSocket) SentPackets() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Sent)
}

func (s *FakeSocket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

// Reset forgets recorded traffic.
func (s *FakeSocket) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = nil
}
