// Package repositories stores sheets, downloaded media and sync state in SQLite.
//
// # Repositories
//
//   - [SheetRepository] : sheets and their ordered tracks, implementing models.Repository for [models.PersistedSheet]
//   - [DownloadRepository] : media that exists on disk, keyed by platform and id
//   - [StateRepository] : key/value bookkeeping such as the hash of the last applied snapshot
//
// # Adapters
//
// [SheetStoreAdapter] exposes [SheetRepository] through the narrow interface the reconciliation engine
// consumes (tasks.SheetStore). Every call is a separate write; nothing spans calls.
//
// # Schema
//
// Tables are created by shared.RunMigrations. The favorites sheet ([models.DefaultSheetID]) is seeded by
// the first migration and refuses deletion. Track rows keep the full media item JSON in a payload column so
// that fields this package does not model survive export.
package repositories
