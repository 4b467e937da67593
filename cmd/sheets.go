package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/sheetsync/internal/formatter"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/tasks"
	"github.com/urfave/cli/v3"
)

// SheetsList prints every sheet with its track count.
func (r *Runner) SheetsList(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	sheets, err := a.SheetStore.ExportAllWithTracks(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type row struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Tracks  int    `json:"tracks"`
			Default bool   `json:"default,omitempty"`
		}
		rows := make([]row, len(sheets))
		for i, s := range sheets {
			rows[i] = row{ID: s.ID, Title: s.Title, Tracks: len(s.Tracks), Default: s.IsDefault()}
		}
		return r.writeJSON(rows, true)
	}

	r.writePlainHeader(fmt.Sprintf("%d sheets", len(sheets)))
	for _, s := range sheets {
		marker := ""
		if s.IsDefault() {
			marker = " (default)"
		}
		r.writePlain("%-38s %-30s %5d tracks%s\n", s.ID, s.Title, len(s.Tracks), marker)
	}
	return nil
}

// SheetsShow prints one sheet in the requested format.
func (r *Runner) SheetsShow(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	a, err := r.open(ctx)
	if err != nil {
		return err
	}
	sheets, err := a.SheetStore.ExportAllWithTracks(ctx)
	if err != nil {
		return err
	}

	sheet, err := findSheet(sheets, cmd.StringArg("sheet"))
	if err != nil {
		return err
	}
	return formatter.Print(r.output, sheet, format)
}

// SheetsCreate creates an empty sheet.
func (r *Runner) SheetsCreate(ctx context.Context, cmd *cli.Command) error {
	title := strings.TrimSpace(cmd.StringArg("title"))
	if title == "" {
		return fmt.Errorf("%w: title", shared.ErrMissingArgument)
	}

	a, err := r.open(ctx)
	if err != nil {
		return err
	}
	sheet, err := a.SheetStore.CreateSheet(ctx, title)
	if err != nil {
		return err
	}

	r.logger.Info("sheet created", "id", sheet.ID, "title", sheet.Title)
	r.writePlain("✓ Created sheet %q (%s)\n", sheet.Title, sheet.ID)
	return nil
}

// SheetsExport writes sheets to files.
//
// The json format writes one backup snapshot of every sheet; other formats write one file per sheet
// plus a manifest.
func (r *Runner) SheetsExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	output := cmd.String("output")
	selector := cmd.String("sheet")

	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	if format == formatter.FormatJSON && selector == "" {
		if output == "" {
			output = "MusicFreeBackup.json"
		}
		snap, err := a.Backup.ExportFile(ctx, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Exported %d sheets (%d tracks) to %s\n", len(snap.Sheets), snap.TrackCount(), output)
		return nil
	}

	sheets, err := a.SheetStore.ExportAllWithTracks(ctx)
	if err != nil {
		return err
	}

	if selector != "" {
		sheet, err := findSheet(sheets, selector)
		if err != nil {
			return err
		}
		path, err := formatter.WriteExport(r.fs, sheet, format, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Exported %q to %s\n", sheet.Title, path)
		return nil
	}

	if output == "" {
		output = "exports"
	}
	manifest, err := formatter.WriteBulkExport(r.fs, sheets, format, output)
	if err != nil {
		return err
	}

	r.writePlain("✓ Exported %d/%d sheets to %s\n", len(manifest.Sheets)-manifest.Failed(), len(manifest.Sheets), output)
	for _, e := range manifest.Sheets {
		if e.Error != "" {
			r.writePlain("  ✗ %s: %s\n", e.Title, e.Error)
		}
	}
	return nil
}

// SheetsImport applies a snapshot file to local sheets.
func (r *Runner) SheetsImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path", shared.ErrMissingArgument)
	}
	policy, err := r.policy(cmd)
	if err != nil {
		return err
	}

	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	progress, done := r.printProgress()
	result, err := a.Backup.ImportFile(ctx, path, policy, progress)
	close(progress)
	<-done

	return r.reportApply(path, result, err)
}

// findSheet matches selector against sheet IDs first, then titles.
func findSheet(sheets []models.Sheet, selector string) (models.Sheet, error) {
	if selector == "" {
		return models.Sheet{}, fmt.Errorf("%w: sheet", shared.ErrMissingArgument)
	}
	for _, s := range sheets {
		if s.ID == selector {
			return s, nil
		}
	}
	for _, s := range sheets {
		if s.Title == selector {
			return s, nil
		}
	}
	return models.Sheet{}, fmt.Errorf("%w: %s", shared.ErrSheetNotFound, selector)
}

// policy reads --policy, falling back to backup.resume_behavior.
func (r *Runner) policy(cmd *cli.Command) (tasks.Policy, error) {
	name := cmd.String("policy")
	if name == "" {
		name = r.config.Backup.ResumeBehavior
	}
	policy, err := tasks.ParsePolicy(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidFlag, err)
	}
	return policy, nil
}

// printProgress prints engine updates until the returned channel is closed. done closes once printing stops.
func (r *Runner) printProgress() (chan tasks.ProgressUpdate, <-chan struct{}) {
	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			switch update.Phase {
			case tasks.LoadLocal:
				r.writePlain("📥 %s\n", update.Message)
			case tasks.BuildPlan:
				r.writePlain("\n📝 %s\n", update.Message)
			case tasks.ApplyPlan:
				r.writePlain("   %s\n", update.Message)
			case tasks.Finished:
				r.writePlain("\n%s\n", update.Message)
			}
		}
	}()
	return progress, done
}

// reportApply prints the outcome of applying a snapshot from source.
func (r *Runner) reportApply(source string, result *tasks.ApplyResult, err error) error {
	var partial *tasks.PartialMergeError
	if errors.As(err, &partial) {
		r.writePlainln("⚠ Stopped after %d/%d changes. Re-run the same command to finish.", partial.Applied, partial.Total)
		return err
	}
	if err != nil {
		return err
	}

	r.logger.Info("snapshot applied", "source", source, "changes", result.Applied)
	if result.Applied == 0 {
		r.writePlain("✓ Already in sync with %s\n", source)
	}
	return nil
}
