package main

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/sheetsync/internal/app"
	"github.com/desertthunder/sheetsync/internal/events"
	"github.com/desertthunder/sheetsync/internal/models"
	"github.com/desertthunder/sheetsync/internal/server"
	"github.com/desertthunder/sheetsync/internal/transfer"
	"github.com/urfave/cli/v3"
)

// TransferDownload downloads media for sheet tracks.
func (r *Runner) TransferDownload(ctx context.Context, cmd *cli.Command) error {
	return r.runTransfer(ctx, cmd, transfer.ModeDownload)
}

// TransferUpload downloads missing media, then uploads it to the backup store.
func (r *Runner) TransferUpload(ctx context.Context, cmd *cli.Command) error {
	mode := transfer.ModeDownloadThenUpload
	if cmd.Bool("existing") {
		mode = transfer.ModeUpload
	}
	return r.runTransfer(ctx, cmd, mode)
}

type transferSummary struct {
	mu      sync.Mutex
	done    int
	skipped int
	failed  []transfer.Event
}

func (r *Runner) runTransfer(ctx context.Context, cmd *cli.Command, mode transfer.Mode) error {
	a, err := r.open(ctx)
	if err != nil {
		return err
	}

	if c := cmd.String("concurrency"); c != "" {
		n, err := transfer.ParseConcurrency(c)
		if err != nil {
			return err
		}
		a.Queue.SetConcurrency(n)
	}

	sheets, err := a.SheetStore.ExportAllWithTracks(ctx)
	if err != nil {
		return err
	}
	if selector := cmd.String("sheet"); selector != "" {
		sheet, err := findSheet(sheets, selector)
		if err != nil {
			return err
		}
		sheets = []models.Sheet{sheet}
	}
	tracks := uniqueTracks(sheets)

	return r.transferTracks(ctx, a, tracks, mode, transferOpts{
		timeout: cmd.Duration("timeout"),
		serve:   cmd.String("serve"),
	})
}

type transferOpts struct {
	timeout time.Duration // 0 waits until the queue drains
	serve   string        // status server address, empty for none
}

// transferTracks enqueues tracks, prints terminal events as they arrive and a summary once the queue drains.
func (r *Runner) transferTracks(ctx context.Context, a *app.App, tracks []models.Track, mode transfer.Mode, opts transferOpts) error {
	if opts.serve != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		srvDone := make(chan error, 1)
		go func() {
			srvDone <- server.Serve(srvCtx, opts.serve, server.NewStatusRouter(a.Queue, a.Bus, r.logger), r.logger)
		}()
		defer func() {
			stopServer()
			if err := <-srvDone; err != nil {
				r.logger.Warn("status server failed", "error", err)
			}
		}()
	}

	var summary transferSummary
	unsubscribe, err := a.Bus.Subscribe(ctx, events.TopicTransferStatus, func(e events.Event) {
		var ev transfer.Event
		if err := e.Decode(&ev); err != nil {
			r.logger.Warn("failed to decode transfer event", "error", err)
			return
		}
		summary.record(r, ev)
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	keys, err := a.Queue.Enqueue(ctx, tracks, mode)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		r.writePlain("Nothing to %s (%d tracks checked)\n", mode, len(tracks))
		return nil
	}
	r.writePlain("Transferring %d/%d tracks (%s, %d at a time)\n\n", len(keys), len(tracks), mode, a.Queue.Concurrency())

	waitCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	waitErr := a.Queue.Wait(waitCtx)
	if waitErr != nil {
		for _, k := range keys {
			a.Queue.Cancel(k)
		}
	}
	unsubscribe()

	r.writePlain("\n")
	r.writePlainHeader("Transfer Complete!")
	r.writePlain("Completed: %d/%d\n", summary.done, len(keys))
	r.writePlain("Already backed up: %d\n", summary.skipped)
	if len(summary.failed) > 0 {
		r.writePlain("\nFailed %d transfers:\n", len(summary.failed))
		for _, ev := range summary.failed {
			r.writePlain("  - %s - %s [%s]: %s\n", ev.Artist, ev.Title, ev.Kind, ev.Error)
		}
	}
	return waitErr
}

func (s *transferSummary) record(r *Runner, ev transfer.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.State {
	case transfer.StateDone:
		s.done++
		if ev.Skipped {
			s.skipped++
			r.writePlain("  ✓ %s - %s (already backed up)\n", ev.Artist, ev.Title)
		} else {
			r.writePlain("  ✓ %s - %s\n", ev.Artist, ev.Title)
		}
	case transfer.StateError:
		s.failed = append(s.failed, ev)
		r.writePlain("  ✗ %s - %s: %s\n", ev.Artist, ev.Title, ev.Error)
	}
}

// uniqueTracks flattens sheets, keeping the first occurrence of each track.
func uniqueTracks(sheets []models.Sheet) []models.Track {
	seen := make(map[models.MediaKey]bool)
	var tracks []models.Track
	for _, s := range sheets {
		for _, t := range s.Tracks {
			if seen[t.Key()] {
				continue
			}
			seen[t.Key()] = true
			tracks = append(tracks, t)
		}
	}
	return tracks
}
