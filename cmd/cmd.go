// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/sheetsync/internal/backup"
	"github.com/urfave/cli/v3"
)

func policyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "policy",
		Aliases: []string{"p"},
		Usage:   "How a snapshot is applied: append, overwrite or import (default: backup.resume_behavior)",
	}
}

func sheetFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "sheet",
		Aliases: []string{"s"},
		Usage:   "Sheet ID or title (default: every sheet)",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example config.toml to the --config path",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// sheetsCommand handles local sheet operations.
func sheetsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sheets",
		Usage: "Inspect and edit local sheets",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List sheets with their track counts",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.SheetsList,
			},
			{
				Name:  "show",
				Usage: "Print the tracks of one sheet",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "sheet"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, csv, markdown or json",
						Value:   "text",
					},
				},
				Action: r.SheetsShow,
			},
			{
				Name:  "create",
				Usage: "Create an empty sheet",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "title"},
				},
				Action: r.SheetsCreate,
			},
			{
				Name:  "export",
				Usage: "Export sheets to files",
				Flags: []cli.Flag{
					sheetFlag(),
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: json (backup snapshot), csv, markdown or text",
						Value:   "json",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file for json or a single sheet, output directory otherwise",
					},
				},
				Action: r.SheetsExport,
			},
			{
				Name:  "import",
				Usage: "Apply a backup snapshot file to local sheets",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags:  []cli.Flag{policyFlag()},
				Action: r.SheetsImport,
			},
		},
	}
}

// backupCommand handles synchronization with the remote store.
func backupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Synchronize sheets and media with the backup store",
		Commands: []*cli.Command{
			{
				Name:   "push",
				Usage:  "Upload a snapshot of every sheet",
				Action: r.BackupPush,
			},
			{
				Name:   "pull",
				Usage:  "Download the remote snapshot and apply it",
				Flags:  []cli.Flag{policyFlag()},
				Action: r.BackupPull,
			},
			{
				Name:  "auto",
				Usage: "Pull only when the remote snapshot changed",
				Flags: []cli.Flag{
					policyFlag(),
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Keep checking at this interval until interrupted (0 checks once)",
					},
				},
				Action: r.BackupAuto,
			},
			{
				Name:  "check",
				Usage: "List tracks whose media is not in the backup store",
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.BoolFlag{
						Name:  "upload",
						Usage: "Download and back up the missing tracks",
					},
				},
				Action: r.BackupCheck,
			},
			{
				Name:  "watch",
				Usage: "Import a snapshot file every time it changes",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					policyFlag(),
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Quiet period before a change is imported",
						Value: backup.DefaultDebounce,
					},
				},
				Action: r.BackupWatch,
			},
			{
				Name:   "link",
				Usage:  "Record media already in the download directory as downloaded",
				Action: r.BackupLink,
			},
			{
				Name:   "unlink",
				Usage:  "Forget the download records of every sheet track",
				Action: r.BackupUnlink,
			},
		},
	}
}

// transferCommand handles media transfers.
func transferCommand(r *Runner) *cli.Command {
	flags := func() []cli.Flag {
		return []cli.Flag{
			sheetFlag(),
			&cli.StringFlag{
				Name:  "concurrency",
				Usage: "Transfers running at once (1-20, default: download.concurrency)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Cancel transfers still running after this long (0 waits forever)",
			},
			&cli.StringFlag{
				Name:  "serve",
				Usage: "Serve GET /status and GET /events on this address while transferring, e.g. 127.0.0.1:8787",
			},
		}
	}

	return &cli.Command{
		Name:  "transfer",
		Usage: "Download media and back it up",
		Commands: []*cli.Command{
			{
				Name:   "download",
				Usage:  "Download media for sheet tracks",
				Flags:  flags(),
				Action: r.TransferDownload,
			},
			{
				Name:  "upload",
				Usage: "Download missing media, then upload it to the backup store",
				Flags: append(flags(), &cli.BoolFlag{
					Name:  "existing",
					Usage: "Only upload files already on disk",
				}),
				Action: r.TransferUpload,
			},
		},
	}
}

// monitorCommand returns the top-level TUI command for interactive transfers.
func monitorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "monitor",
		Aliases: []string{"tui", "ui"},
		Usage:   "Launch the interactive transfer monitor",
		Action:  r.Monitor,
	}
}
