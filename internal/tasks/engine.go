package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
)

// PartialMergeError reports a plan that stopped partway. Mutations before the failing one stay applied.
type PartialMergeError struct {
	Applied  int      // Mutations completed before the failure
	Total    int      // Mutations in the plan
	Mutation Mutation // The mutation that failed
	Err      error
}

func (e *PartialMergeError) Error() string {
	return fmt.Sprintf("%v after %d/%d changes: %s: %v", shared.ErrPartialMerge, e.Applied, e.Total, e.Mutation, e.Err)
}

func (e *PartialMergeError) Unwrap() []error {
	return []error{shared.ErrPartialMerge, e.Err}
}

// ApplyResult summarizes an applied plan.
type ApplyResult struct {
	Plan    *Plan
	Applied int
	Created map[string]string // Plan ref to the id of the sheet it created
}

// SheetEngine reconciles local sheets with snapshots through a [SheetStore].
type SheetEngine struct {
	store  SheetStore
	key    KeyFunc
	logger *log.Logger
}

// NewSheetEngine creates a new SheetEngine. defaultLabel names the default sheet when it has no title.
func NewSheetEngine(store SheetStore, defaultLabel string, logger *log.Logger) *SheetEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SheetEngine{
		store:  store,
		key:    SheetKey(defaultLabel),
		logger: shared.WithLogger(logger, "component", "engine"),
	}
}

// Key returns the matching key of a sheet.
func (e *SheetEngine) Key(s models.Sheet) string {
	return e.key(s)
}

// Plan loads the local sheets and builds the plan for policy without applying it.
func (e *SheetEngine) Plan(ctx context.Context, snap *models.Snapshot, policy Policy, progress chan<- ProgressUpdate) (*Plan, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", shared.ErrInvalidSnapshot)
	}

	var plan *Plan
	switch policy {
	case PolicyImport:
		plan = PlanImport(snap, e.key)
	case PolicyReplace:
		local, err := e.store.ListSheets(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list local sheets: %w", err)
		}
		sendProgress(progress, loadLocalUpdate(len(local)))
		plan = PlanReplace(local, snap, e.key)
	case PolicyMerge:
		local, err := e.store.ExportAllWithTracks(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to export local sheets: %w", err)
		}
		sendProgress(progress, loadLocalUpdate(len(local)))
		plan = PlanMerge(local, snap, e.key)
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", shared.ErrInvalidArgument, policy)
	}

	sendProgress(progress, buildPlanUpdate(plan))
	return plan, nil
}

// Apply executes the plan one mutation at a time. There is no rollback: on failure the mutations already
// applied remain and a [*PartialMergeError] is returned.
func (e *SheetEngine) Apply(ctx context.Context, plan *Plan, progress chan<- ProgressUpdate) (*ApplyResult, error) {
	result := &ApplyResult{Plan: plan, Created: make(map[string]string)}
	total := len(plan.Mutations)

	for i, m := range plan.Mutations {
		fail := func(err error) (*ApplyResult, error) {
			e.logger.Error("merge stopped", "applied", i, "total", total, "op", m.Op, "error", err)
			return result, &PartialMergeError{Applied: i, Total: total, Mutation: m, Err: err}
		}

		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		if err := e.apply(ctx, m, result.Created); err != nil {
			return fail(err)
		}

		result.Applied++
		e.logger.Debug("applied", "step", i+1, "total", total, "op", m.Op, "target", m.target())
		sendProgress(progress, applyStepUpdate(i+1, total, m))
	}

	sendProgress(progress, finishedUpdate(result))
	e.logger.Info("plan applied", "policy", plan.Policy, "changes", result.Applied)
	return result, nil
}

// Resume plans and applies snap under policy.
func (e *SheetEngine) Resume(ctx context.Context, snap *models.Snapshot, policy Policy, progress chan<- ProgressUpdate) (*ApplyResult, error) {
	plan, err := e.Plan(ctx, snap, policy, progress)
	if err != nil {
		return nil, err
	}
	return e.Apply(ctx, plan, progress)
}

func (e *SheetEngine) apply(ctx context.Context, m Mutation, created map[string]string) error {
	id := m.SheetID
	if m.Ref != "" && m.Op != OpCreateSheet {
		resolved, ok := created[m.Ref]
		if !ok {
			return fmt.Errorf("%w: unresolved sheet ref %s", shared.ErrSheetNotFound, m.Ref)
		}
		id = resolved
	}

	switch m.Op {
	case OpCreateSheet:
		sheet, err := e.store.CreateSheet(ctx, m.Title)
		if err != nil {
			return err
		}
		created[m.Ref] = sheet.ID
		return nil
	case OpRenameSheet:
		return e.store.UpdateSheet(ctx, id, m.Title)
	case OpRemoveSheet:
		if id == models.DefaultSheetID {
			return shared.ErrDefaultSheet
		}
		return e.store.RemoveSheet(ctx, id)
	case OpClearSheet:
		return e.store.ClearSheet(ctx, id)
	case OpAddTracks:
		return e.store.AddTracks(ctx, id, m.Tracks)
	case OpReplaceDefault:
		return e.store.ReplaceDefaultSheetTracks(ctx, m.Tracks)
	}
	return errors.New("unknown mutation " + m.Op.String())
}
