// Package coalesce collapses concurrent identical operations into one
// execution per key, fanning the single outcome out to every caller.
package coalesce

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group deduplicates in-flight operations by key. While a key is in
// flight every caller shares the one execution; the key is released on
// settlement, before the outcome is delivered, so a follow-up call
// starts fresh. Failures are never retained. The zero Group is ready
// to use.
type Group struct {
	sf singleflight.Group
}

// Do runs fn at most once per key for the period it is in flight and
// hands the shared outcome to every concurrent caller. shared reports
// whether the outcome was shared with other callers.
//
// The execution is detached from any single caller: fn receives a
// context that keeps ctx's values but never its cancellation, so a
// caller that abandons its wait gets its own context error while the
// operation runs to completion for the remaining waiters.
func (g *Group) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	}
}
