// Package closure computes bounded breadth-first set closures ("snowballs")
// over an arbitrary, possibly remote, expansion function.
package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// progressEvery controls how often progress is logged, in closure insertions.
const progressEvery = 10

// ErrInvalidLimit is returned when the closure size limit is below 1.
var ErrInvalidLimit = errors.New("closure limit must be at least 1")

// Expander returns the candidate neighbours of a node.
type Expander[N comparable] interface {
	Expand(ctx context.Context, node N) ([]N, error)
}

// ExpandFunc adapts a plain function to the Expander interface.
type ExpandFunc[N comparable] func(ctx context.Context, node N) ([]N, error)

// Expand calls f(ctx, node).
func (f ExpandFunc[N]) Expand(ctx context.Context, node N) ([]N, error) {
	return f(ctx, node)
}

// Blacklist reports whether a discovered node must not be expanded further.
// A blacklisted node stays in the closure under its parent.
type Blacklist[N comparable] func(node N) bool

// Result is the outcome of a closure computation.
type Result[N comparable] struct {
	// Parents maps every discovered node to the node that discovered it.
	// Seeds map to the zero value of N.
	Parents map[N]N

	// Order lists nodes in insertion order.
	Order []N

	// Pending holds discovered nodes that were never expanded because the
	// limit was reached.
	Pending []N

	// Filtered holds nodes the blacklist kept from expansion.
	Filtered []N

	// LimitReached is true when the computation stopped on the size limit.
	LimitReached bool
}

// Len returns the closure size.
func (r *Result[N]) Len() int {
	return len(r.Parents)
}

// Nodes returns the discovered nodes in insertion order.
func (r *Result[N]) Nodes() []N {
	out := make([]N, len(r.Order))
	copy(out, r.Order)
	return out
}

// Contains reports whether node was discovered.
func (r *Result[N]) Contains(node N) bool {
	_, ok := r.Parents[node]
	return ok
}

// Path returns the provenance chain from node back to its seed, node first.
func (r *Result[N]) Path(node N) []N {
	var zero N
	var path []N
	seen := make(map[N]bool)
	for {
		parent, ok := r.Parents[node]
		if !ok || seen[node] {
			return path
		}
		seen[node] = true
		path = append(path, node)
		if parent == zero {
			return path
		}
		node = parent
	}
}

// Compute expands seeds breadth-first with expander until the queue is empty
// or the closure holds limit nodes. Every node keeps the parent of its first
// discovery. The zero value of N is skipped wherever it appears. Errors
// from the expander abort the computation.
func Compute[N comparable](ctx context.Context, expander Expander[N], seeds []N, limit int, blacklist Blacklist[N]) (*Result[N], error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	var zero N
	result := &Result[N]{
		Parents: make(map[N]N),
	}
	queue := make([]N, 0, len(seeds))

	for _, seed := range seeds {
		if seed == zero {
			continue
		}
		if _, dup := result.Parents[seed]; dup {
			continue
		}
		if len(result.Parents) >= limit {
			result.Pending = append(result.Pending, seed)
			result.LimitReached = true
			continue
		}
		result.Parents[seed] = zero
		result.Order = append(result.Order, seed)
		queue = append(queue, seed)
	}

	for len(queue) > 0 && len(result.Parents) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := queue[0]
		queue = queue[1:]

		if blacklist != nil && blacklist(node) {
			slog.Info("Filtered node", "node", node)
			result.Filtered = append(result.Filtered, node)
			continue
		}

		candidates, err := expander.Expand(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %v: %w", node, err)
		}

		for _, candidate := range candidates {
			// The zero value marks a seed's parent and is never a node.
			if candidate == zero {
				continue
			}
			if _, seen := result.Parents[candidate]; seen {
				continue
			}
			if len(result.Parents) >= limit {
				break
			}
			result.Parents[candidate] = node
			result.Order = append(result.Order, candidate)
			queue = append(queue, candidate)

			if len(result.Parents)%progressEvery == 0 {
				slog.Info("Closure progress", "done", len(result.Parents), "remaining", len(queue))
			}
		}
	}

	if len(result.Parents) >= limit {
		result.LimitReached = true
		result.Pending = append(result.Pending, queue...)
		slog.Info("Closure hit size limit", "size", len(result.Parents), "unchecked", len(result.Pending))
	}

	return result, nil
}
