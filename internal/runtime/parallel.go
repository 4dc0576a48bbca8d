package runtime

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/graph"
)

// branchResult is the outcome of one branch of a parallel region.
type branchResult struct {
	name  string
	patch *domain.Patch
	value any
	err   error
}

// runBranches runs fn for every branch name with bounded concurrency. All
// branches run to completion; a failure never cancels its siblings.
// Results come back sorted by branch name.
func (e *Engine) runBranches(ctx context.Context, runID string, node *graph.Node, names []string, fn func(ctx context.Context, i int) branchResult) []branchResult {
	limit := node.MaxConcurrency
	if limit <= 0 {
		limit = e.parallelism
	}
	results := make([]branchResult, len(names))

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range names {
		g.Go(func() error {
			start := time.Now()
			res, err := call(ctx, node.Name+"/"+names[i], func(ctx context.Context) (branchResult, error) {
				r := fn(ctx, i)
				return r, r.err
			})
			res.name = names[i]
			res.err = err
			results[i] = res
			e.emitBranchDone(ctx, runID, node.Name, names[i], time.Since(start), err)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].name < results[b].name })
	return results
}

// join logs failed branches and fails the node when every branch failed.
func (e *Engine) join(runID string, node *graph.Node, results []branchResult) (*domain.Patch, error) {
	patch := domain.NewPatch()
	var failures []*domain.BranchError
	for _, r := range results {
		if r.err == nil {
			continue
		}
		failures = append(failures, &domain.BranchError{Branch: r.name, Err: r.err})
		patch.Warn(domain.KindPartialFailure, "branch %q failed: %v", r.name, r.err)
		e.logger.Warn("Branch failed", "run_id", runID, "node", node.Name, "branch", r.name, "err", r.err)
	}
	if len(results) > 0 && len(failures) == len(results) {
		return nil, &domain.BranchFailuresError{Node: node.Name, Failures: failures}
	}
	return patch, nil
}

func (e *Engine) runParallel(ctx context.Context, runID string, node *graph.Node, state domain.State) (domain.State, error) {
	names := make([]string, len(node.Branches))
	for i, b := range node.Branches {
		names[i] = b.Name
	}
	results := e.runBranches(ctx, runID, node, names, func(ctx context.Context, i int) branchResult {
		br := node.Branches[i]
		patch, err := br.Run(ctx, state)
		if err != nil {
			return branchResult{err: err}
		}
		if patch != nil {
			for field := range patch.Fields {
				if !contains(br.Writes, field) {
					return branchResult{err: &domain.OwnershipError{Node: node.Name + "/" + br.Name, Fields: []string{field}}}
				}
			}
		}
		return branchResult{patch: patch}
	})

	joined, err := e.join(runID, node, results)
	if err != nil {
		return state, err
	}
	for _, r := range results {
		if r.err != nil || r.patch == nil {
			continue
		}
		joined.Log = append(joined.Log, r.patch.Log...)
		for k, v := range r.patch.Fields {
			joined.Set(k, v)
		}
	}
	return e.apply(ctx, runID, node.Name, node.Writes, state, joined)
}

func (e *Engine) runFanOut(ctx context.Context, runID string, node *graph.Node, state domain.State) (domain.State, error) {
	spec := node.FanOut
	keys, err := spec.Keys(state)
	if err != nil {
		return state, fmt.Errorf("node %q: branch keys: %w", node.Name, err)
	}
	keys = dedupe(keys)

	results := e.runBranches(ctx, runID, node, keys, func(ctx context.Context, i int) branchResult {
		v, err := spec.Run(ctx, state, keys[i])
		return branchResult{value: v, err: err}
	})

	joined, err := e.join(runID, node, results)
	if err != nil {
		return state, err
	}
	merged := make([]any, 0, len(results))
	for _, r := range results {
		if r.err == nil {
			merged = append(merged, r.value)
		}
	}
	if len(keys) == 0 {
		joined.Warn(domain.KindPartialFailure, "no branches to run")
	}
	joined.Set(spec.Into, merged)
	return e.apply(ctx, runID, node.Name, node.Writes, state, joined)
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
