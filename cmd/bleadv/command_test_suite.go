//go:build test

package main

import (
	"bytes"
	"context"
	"sync"

	"github.com/srg/bleadv/internal/adapter"
	"github.com/srg/bleadv/pkg/coordinator"
	"github.com/stretchr/testify/suite"
)

// fakeAdapter records the items the commands enqueue.
type fakeAdapter struct {
	name string

	mu    sync.Mutex
	items []adapter.QueueItem
	final bool
}

func (a *fakeAdapter) Name() string    { return a.name }
func (a *fakeAdapter) Available() bool { return true }

func (a *fakeAdapter) Enqueue(_ string, item adapter.QueueItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = append(a.items, item)
}

func (a *fakeAdapter) Drain(context.Context) error { return nil }

func (a *fakeAdapter) Final() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.final = true
}

func (a *fakeAdapter) Items() []adapter.QueueItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]adapter.QueueItem(nil), a.items...)
}

// CommandTestSuite runs the commands against a coordinator whose only
// adapter is a fakeAdapter named "fake0".
type CommandTestSuite struct {
	suite.Suite

	Adapter *fakeAdapter
	// Inject is handed to the coordinator as received by fake0 before it starts.
	Inject [][]byte
}

func (s *CommandTestSuite) SetupTest() {
	s.Adapter = &fakeAdapter{name: "fake0"}
	s.Inject = nil
	CoordinatorFactory = func(opts coordinator.Options) *coordinator.Coordinator {
		opts.UseHCI = false
		opts.HostScan = false
		opts.Proxy = nil
		c := coordinator.New(opts)
		c.AddAdapter(s.Adapter)
		for _, raw := range s.Inject {
			c.HandleRawAdv(s.Adapter.name, raw)
		}
		return c
	}
}

func (s *CommandTestSuite) TearDownTest() {
	CoordinatorFactory = coordinator.New
	ServeReady = nil
}

// ExecuteCommand runs the root command with args and returns stdout; logs
// and errors go to stderr.
func (s *CommandTestSuite) ExecuteCommand(ctx context.Context, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	root := newRootCmd()
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// Execute runs args with a background context and returns stdout.
func (s *CommandTestSuite) Execute(args ...string) (string, error) {
	out, _, err := s.ExecuteCommand(context.Background(), args...)
	return out, err
}
