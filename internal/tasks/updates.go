package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	LoadLocal Phase = iota
	BuildPlan
	ApplyPlan
	Finished
)

func (p Phase) String() string {
	switch p {
	case LoadLocal:
		return "load_local"
	case BuildPlan:
		return "build_plan"
	case ApplyPlan:
		return "apply_plan"
	case Finished:
		return "finished"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func loadLocalUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadLocal,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Loaded %d local sheets", count),
	}
}

func buildPlanUpdate(plan *Plan) ProgressUpdate {
	return ProgressUpdate{
		Phase:   BuildPlan,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Planned %d changes (%s)", len(plan.Mutations), plan.Policy),
		Data:    plan,
	}
}

func applyStepUpdate(step, total int, m Mutation) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApplyPlan,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, m),
	}
}

func finishedUpdate(result *ApplyResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Finished,
		Step:    result.Applied,
		Total:   result.Applied,
		Message: fmt.Sprintf("✓ Applied %d changes", result.Applied),
		Data:    result,
	}
}
