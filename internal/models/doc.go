// Package models defines domain entities and persistence interfaces for sheetsync.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): plain values exchanged between the engine, the queue and the stores
//   - [Track] : a song, either remote (owned by a platform) or local (a file on disk)
//   - [Sheet] : an ordered, titled list of tracks
//   - [Snapshot] : a point-in-time export of every sheet, used for backup and restore
//
// 2. Persistent Entities: Database-backed models with full lifecycle management
//   - [PersistedSheet] : a sheet row with sequence, timestamps and soft delete
//
// Track identity is the pair (platform, id) rendered as a [MediaKey]. Display fields may change freely
// without changing identity.
//
// All persistent entities implement the [Model] interface. The [Repository] interface defines
// standard CRUD operations for database access.
package models
