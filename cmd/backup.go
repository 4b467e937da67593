package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/sheetsync/internal/shared"
	"github.com/desertthunder/sheetsync/internal/tasks"
	"github.com/desertthunder/sheetsync/internal/transfer"
	"github.com/urfave/cli/v3"
)

// BackupPush uploads a snapshot of every sheet.
func (r *Runner) BackupPush(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	snap, err := a.Backup.Push(ctx)
	if err != nil {
		return err
	}
	r.writePlain("✓ Pushed %d sheets (%d tracks) to %s\n", len(snap.Sheets), snap.TrackCount(), a.Store.Name())
	return nil
}

// BackupPull applies the remote snapshot.
func (r *Runner) BackupPull(ctx context.Context, cmd *cli.Command) error {
	policy, err := r.policy(cmd)
	if err != nil {
		return err
	}
	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	progress, done := r.printProgress()
	result, err := a.Backup.Pull(ctx, policy, progress)
	close(progress)
	<-done

	return r.reportApply("remote snapshot", result, err)
}

// BackupAuto pulls when the remote snapshot changed, once or every --interval.
func (r *Runner) BackupAuto(ctx context.Context, cmd *cli.Command) error {
	policy, err := r.policy(cmd)
	if err != nil {
		return err
	}
	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	check := func() error {
		result, pulled, err := a.Backup.AutoPull(ctx, policy, nil)
		if err != nil {
			return err
		}
		if !pulled {
			r.logger.Debug("remote snapshot unchanged")
			return nil
		}
		r.writePlain("✓ Applied remote snapshot (%d changes)\n", result.Applied)
		return nil
	}

	interval := cmd.Duration("interval")
	if interval <= 0 {
		return check()
	}

	r.logger.Info("watching remote snapshot", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := check(); err != nil {
			if errors.Is(err, shared.ErrPartialMerge) || ctx.Err() != nil {
				return err
			}
			r.logger.Warn("auto pull failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// BackupCheck lists tracks whose media is missing from the backup store.
func (r *Runner) BackupCheck(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	report, err := a.Backup.Check(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type missing struct {
			Key    string `json:"key"`
			Title  string `json:"title"`
			Artist string `json:"artist"`
		}
		out := struct {
			Tracks  int       `json:"tracks"`
			Objects int       `json:"objects"`
			Missing []missing `json:"missing"`
		}{Tracks: report.Tracks, Objects: report.Objects, Missing: make([]missing, 0, len(report.Missing))}
		for _, t := range report.Missing {
			out.Missing = append(out.Missing, missing{Key: t.Key().String(), Title: t.Title, Artist: t.Artist})
		}
		return r.writeJSON(out, true)
	}

	r.writePlainHeader("Backup Check")
	r.writePlain("Tracks: %d\nObjects: %d\nMissing: %d\n", report.Tracks, report.Objects, len(report.Missing))
	if len(report.Missing) > 0 {
		r.writePlainln("Missing from %s:", a.Store.Name())
		for i, t := range report.Missing {
			r.writePlain("  %d. %s - %s\n", i+1, t.Artist, t.Title)
		}
		if !cmd.Bool("upload") {
			r.writePlainln("Run 'sheetsync backup check --upload' to back them up.")
		}
	}

	if cmd.Bool("upload") && len(report.Missing) > 0 {
		return r.transferTracks(ctx, a, report.Missing, transfer.ModeDownloadThenUpload, transferOpts{})
	}
	return nil
}

// BackupWatch imports the snapshot file at path whenever it changes, until interrupted.
func (r *Runner) BackupWatch(ctx context.Context, cmd *cli.Command) error {
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

	r.writePlain("Watching %s (%s). Press Ctrl+C to stop.\n", path, policy)
	err = a.Backup.Watch(ctx, path, policy, cmd.Duration("debounce"), func(result *tasks.ApplyResult, err error) {
		if err != nil {
			r.writePlain("✗ %s: %v\n", path, err)
			return
		}
		r.writePlain("✓ Imported %s (%d changes)\n", path, result.Applied)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// BackupLink records files already in the download directory as downloaded.
func (r *Runner) BackupLink(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx)
	if err != nil {
		return err
	}
	sheets, err := a.SheetStore.ExportAllWithTracks(ctx)
	if err != nil {
		return err
	}

	linked, total, err := a.Linker.LinkAll(ctx, sheets)
	if err != nil {
		return err
	}
	r.writePlain("✓ Linked %d/%d tracks to files in %s\n", linked, total, r.config.Download.Path)
	return nil
}

// BackupUnlink forgets the download records of every sheet track.
func (r *Runner) BackupUnlink(ctx context.Context, cmd *cli.Command) error {
	a, err := r.open(ctx)
	if err != nil {
		return err
	}
	sheets, err := a.SheetStore.ExportAllWithTracks(ctx)
	if err != nil {
		return err
	}

	n, err := a.Linker.UnlinkAll(ctx, sheets)
	if err != nil {
		return err
	}
	r.writePlain("✓ Cleared %d download records\n", n)
	return nil
}
