// Package groutine starts named goroutines. Names show up as pprof labels
// and can be read back from the context for logging.
package groutine

import (
	"context"
	"runtime/pprof"

	"golang.org/x/sync/errgroup"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn in a new goroutine labelled name. A nil parent means
// context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey, name))
	})
}

// Name returns the name given to the goroutine owning ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(nameKey).(string)
	return s
}

// Group is an errgroup whose goroutines are named like Go.
type Group struct {
	eg  *errgroup.Group
	ctx context.Context
}

// WithContext returns a Group and the context cancelled on the first error.
func WithContext(ctx context.Context) (*Group, context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: gctx}, gctx
}

// Go runs fn as a labelled member of the group.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		var err error
		pprof.Do(g.ctx, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
			err = fn(context.WithValue(ctx, nameKey, name))
		})
		return err
	})
}

// Wait blocks until every member returned and reports the first error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
