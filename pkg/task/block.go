package task

import (
	"context"
	"fmt"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// RunBlock executes a block's task list against host, falling into rescue on
// an unignored failure and always running the always list regardless of
// outcome — behavior the teacher never implemented (it had no Block type at
// all). Inherited control fields (when/become/tags/ignore_errors) merge into
// each contained task before it runs: a task's own field wins when set,
// otherwise the block's applies.
func (e *Executor) RunBlock(ctx context.Context, block *types.Block, host types.Host, hc HostConnector) ([]types.Result, error) {
	var results []types.Result

	mainResults, mainFailed, mainErr := e.runItems(ctx, block.Tasks, block, host, hc)
	results = append(results, mainResults...)

	if (mainFailed || mainErr != nil) && len(block.Rescue) > 0 {
		rescueResults, rescueFailed, rescueErr := e.runItems(ctx, block.Rescue, block, host, hc)
		results = append(results, rescueResults...)
		mainErr = rescueErr
		// Rescue ran to completion without its own unignored failure: it
		// absorbed the original failure, so the block is no longer failed.
		mainFailed = rescueFailed
	}

	if len(block.Always) > 0 {
		alwaysResults, alwaysFailed, alwaysErr := e.runItems(ctx, block.Always, block, host, hc)
		results = append(results, alwaysResults...)
		if alwaysErr != nil {
			return results, alwaysErr
		}
		if alwaysFailed {
			mainFailed = true
		}
	}

	if mainFailed && mainErr == nil {
		mainErr = fmt.Errorf("block failed")
	}
	return results, mainErr
}

// runItems runs a block-item list (tasks and/or nested blocks) in order,
// merging each task's inherited fields from parent before dispatch. It
// reports whether any item terminated in an unignored failure, which is
// what decides whether rescue fires — a failure tolerated via
// ignore_errors must not trip it.
func (e *Executor) runItems(ctx context.Context, items []types.BlockItem, parent *types.Block, host types.Host, hc HostConnector) (results []types.Result, failed bool, err error) {
	for _, item := range items {
		switch {
		case item.NestedBlock != nil:
			nested := mergeBlockInherited(item.NestedBlock, parent)
			nestedResults, nestedErr := e.RunBlock(ctx, nested, host, hc)
			results = append(results, nestedResults...)
			if nestedErr != nil {
				return results, true, nestedErr
			}
		case item.Task != nil:
			merged := mergeTaskInherited(item.Task, parent)
			taskResults, taskErr := e.RunTask(ctx, merged, host, hc)
			results = append(results, taskResults...)
			if taskErr != nil {
				return results, true, taskErr
			}
			if anyFailed(taskResults) && !merged.IgnoreErrors {
				return results, true, nil
			}
		default:
			return results, true, fmt.Errorf("block item has neither task nor nested block")
		}
	}
	return results, false, nil
}

// anyFailed reports whether any result in results represents a terminal
// failure, irrespective of ignore_errors.
func anyFailed(results []types.Result) bool {
	for _, r := range results {
		if r.IsFailed() {
			return true
		}
	}
	return false
}

// mergeTaskInherited overlays a block's inherited control fields onto a copy
// of t wherever t leaves them at their zero value.
func mergeTaskInherited(t *types.Task, parent *types.Block) *types.Task {
	if parent == nil {
		return t
	}
	merged := *t
	if merged.When == nil {
		merged.When = parent.When
	} else if parent.When != nil {
		merged.When = []interface{}{parent.When, merged.When}
	}
	if !merged.Become {
		merged.Become = parent.Become
	}
	if merged.BecomeUser == "" {
		merged.BecomeUser = parent.BecomeUser
	}
	if !merged.IgnoreErrors {
		merged.IgnoreErrors = parent.IgnoreErrors
	}
	if len(merged.Tags) == 0 {
		merged.Tags = parent.Tags
	}
	return &merged
}

// mergeBlockInherited folds an outer block's inherited fields into a nested
// block the same way mergeTaskInherited does for a plain task, so a
// doubly-nested block still sees its grandparent's when/become/tags.
func mergeBlockInherited(inner, outer *types.Block) *types.Block {
	if outer == nil {
		return inner
	}
	merged := *inner
	if merged.When == nil {
		merged.When = outer.When
	} else if outer.When != nil {
		merged.When = []interface{}{outer.When, merged.When}
	}
	if !merged.Become {
		merged.Become = outer.Become
	}
	if merged.BecomeUser == "" {
		merged.BecomeUser = outer.BecomeUser
	}
	if !merged.IgnoreErrors {
		merged.IgnoreErrors = outer.IgnoreErrors
	}
	if len(merged.Tags) == 0 {
		merged.Tags = outer.Tags
	}
	return &merged
}
