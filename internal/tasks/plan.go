package tasks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/desertthunder/sheetsync/internal/models"
)

// Policy selects how a snapshot is reconciled with local sheets.
type Policy string

const (
	PolicyMerge   Policy = "append"    // Keep local leftovers in _backup sheets, remote order wins
	PolicyReplace Policy = "overwrite" // Local sheets are replaced by the snapshot
	PolicyImport  Policy = "import"    // Every snapshot sheet is added as a new sheet
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyMerge, PolicyReplace, PolicyImport:
		return p, nil
	case "merge", "sync":
		return PolicyMerge, nil
	case "replace":
		return PolicyReplace, nil
	}
	return "", fmt.Errorf("unknown resume policy %q", s)
}

// MutationOp is a single sheet store operation.
type MutationOp int

const (
	OpCreateSheet MutationOp = iota
	OpRenameSheet
	OpRemoveSheet
	OpClearSheet
	OpAddTracks
	OpReplaceDefault
)

func (o MutationOp) String() string {
	switch o {
	case OpCreateSheet:
		return "create_sheet"
	case OpRenameSheet:
		return "rename_sheet"
	case OpRemoveSheet:
		return "remove_sheet"
	case OpClearSheet:
		return "clear_sheet"
	case OpAddTracks:
		return "add_tracks"
	case OpReplaceDefault:
		return "replace_default"
	default:
		return ""
	}
}

// Mutation is one step of a [Plan].
//
// A step targets an existing sheet through SheetID or a sheet created earlier in the same plan through Ref.
type Mutation struct {
	Op      MutationOp
	SheetID string
	Ref     string
	Title   string
	Tracks  []models.Track
}

func (m Mutation) target() string {
	if m.Ref != "" {
		return m.Ref
	}
	return m.SheetID
}

func (m Mutation) String() string {
	switch m.Op {
	case OpCreateSheet:
		return fmt.Sprintf("create sheet %q", m.Title)
	case OpRenameSheet:
		return fmt.Sprintf("rename sheet %s to %q", m.SheetID, m.Title)
	case OpRemoveSheet:
		return fmt.Sprintf("remove sheet %s", m.SheetID)
	case OpClearSheet:
		return fmt.Sprintf("clear sheet %s", m.SheetID)
	case OpAddTracks:
		return fmt.Sprintf("add %d tracks to %s", len(m.Tracks), m.target())
	case OpReplaceDefault:
		return fmt.Sprintf("replace default sheet with %d tracks", len(m.Tracks))
	default:
		return m.Op.String()
	}
}

// Plan is the ordered list of store mutations that reconciles local sheets with a snapshot.
type Plan struct {
	Policy    Policy
	Mutations []Mutation
	refs      int
}

func (p *Plan) add(m Mutation) {
	p.Mutations = append(p.Mutations, m)
}

// create appends a create step followed by an add step when tracks is non-empty, returning the new ref.
func (p *Plan) create(title string, tracks []models.Track) string {
	p.refs++
	ref := "new:" + strconv.Itoa(p.refs)
	p.add(Mutation{Op: OpCreateSheet, Ref: ref, Title: title})
	if len(tracks) > 0 {
		p.add(Mutation{Op: OpAddTracks, Ref: ref, Tracks: tracks})
	}
	return ref
}

// Count returns the number of steps with the given op.
func (p *Plan) Count(op MutationOp) int {
	n := 0
	for _, m := range p.Mutations {
		if m.Op == op {
			n++
		}
	}
	return n
}

// Empty reports whether the plan has no steps.
func (p *Plan) Empty() bool { return len(p.Mutations) == 0 }

// KeyFunc derives the matching key of a sheet.
type KeyFunc func(models.Sheet) string

// SheetKey returns a [KeyFunc] that uses the sheet title, falling back to defaultLabel for the default
// sheet and to the id for any other untitled sheet.
func SheetKey(defaultLabel string) KeyFunc {
	return func(s models.Sheet) string {
		if s.Title != "" {
			return s.Title
		}
		if s.IsDefault() && defaultLabel != "" {
			return defaultLabel
		}
		return s.ID
	}
}

// PlanReplace builds the overwrite plan.
//
// Every snapshot sheet except the default becomes a new local sheet. The snapshot's default sheet, when
// present, replaces the contents of the local default. Every pre-existing local sheet other than the default
// is then removed.
func PlanReplace(local []models.Sheet, snap *models.Snapshot, key KeyFunc) *Plan {
	plan := &Plan{Policy: PolicyReplace}

	var importedDefault *models.Sheet
	for i, sheet := range snap.Sheets {
		if sheet.IsDefault() {
			importedDefault = &snap.Sheets[i]
			continue
		}
		plan.create(key(sheet), sheet.Tracks)
	}

	for _, sheet := range local {
		if sheet.IsDefault() {
			if importedDefault != nil {
				plan.add(Mutation{Op: OpReplaceDefault, SheetID: sheet.ID, Tracks: importedDefault.Tracks})
			}
			continue
		}
		plan.add(Mutation{Op: OpRemoveSheet, SheetID: sheet.ID, Title: sheet.Title})
	}

	return plan
}

// PlanImport builds a plan that adds every snapshot sheet as a new local sheet and touches nothing else.
func PlanImport(snap *models.Snapshot, key KeyFunc) *Plan {
	plan := &Plan{Policy: PolicyImport}
	for _, sheet := range snap.Sheets {
		plan.create(key(sheet), sheet.Tracks)
	}
	return plan
}

// PlanMerge builds the merge plan.
//
// Local sheets absent from the snapshot are renamed to "<key>_backup" unless they are the default sheet,
// untitled, or already backups. Matched sheets take the remote track list in remote order; local tracks the
// remote list lacks are copied into a new "<key>_backup" sheet first. Unmatched snapshot sheets are created.
// local must carry tracks.
func PlanMerge(local []models.Sheet, snap *models.Snapshot, key KeyFunc) *Plan {
	plan := &Plan{Policy: PolicyMerge}

	remoteKeys := make(map[string]bool, len(snap.Sheets))
	for _, sheet := range snap.Sheets {
		remoteKeys[key(sheet)] = true
	}

	localByKey := make(map[string]int, len(local))
	for i, sheet := range local {
		k := key(sheet)
		if _, seen := localByKey[k]; !seen {
			localByKey[k] = i
		}
	}

	for _, sheet := range local {
		k := key(sheet)
		if remoteKeys[k] || sheet.IsDefault() || sheet.Title == "" || sheet.IsBackup() {
			continue
		}
		plan.add(Mutation{Op: OpRenameSheet, SheetID: sheet.ID, Title: k + models.BackupSuffix})
	}

	consumed := make(map[int]bool)
	for _, remote := range snap.Sheets {
		k := key(remote)
		idx, ok := localByKey[k]
		if !ok || consumed[idx] {
			plan.create(k, remote.Tracks)
			continue
		}
		consumed[idx] = true
		localSheet := local[idx]

		aligned := Align(localSheet.Tracks, remote.Tracks)
		// Leftovers always get a new sheet; an existing backup sheet may itself be rebuilt later in the plan.
		if len(aligned.Unmatched) > 0 {
			plan.create(k+models.BackupSuffix, aligned.Unmatched)
		}

		plan.add(Mutation{Op: OpClearSheet, SheetID: localSheet.ID})
		if len(remote.Tracks) > 0 {
			plan.add(Mutation{Op: OpAddTracks, SheetID: localSheet.ID, Tracks: remote.Tracks})
		}
	}

	return plan
}
