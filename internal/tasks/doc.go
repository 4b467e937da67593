// Package tasks reconciles local sheets with a backup snapshot.
//
// # Policies
//
// Three [Policy] values control how a [models.Snapshot] lands in the local store:
//
//  1. [PolicyMerge] : Remote order wins, nothing local is lost
//     - Local sheets missing from the snapshot are renamed to "<title>_backup"
//     - Matched sheets take the remote track list; local-only tracks go to "<title>_backup"
//     - Snapshot sheets with no local counterpart are created
//
//  2. [PolicyReplace] : The snapshot becomes the local state
//     - Snapshot sheets are created, the default sheet's tracks are replaced
//     - Every other pre-existing local sheet is removed
//
//  3. [PolicyImport] : Every snapshot sheet is added as a new sheet
//
// # Plans
//
// Reconciliation is split into a pure planning step ([PlanMerge], [PlanReplace], [PlanImport]) that
// returns an ordered [Plan] of [Mutation] values, and [SheetEngine.Apply] which issues them one at a time
// against a [SheetStore]. Sheets created during a plan are referenced by plan-local refs until they exist.
//
// # Progress Reporting
//
// Operations send [ProgressUpdate] values on an optional channel. Sends use select with default so a slow
// reader never stalls the engine.
//
// # Failure
//
// There is no rollback. A failing mutation stops the plan and returns a [*PartialMergeError] carrying the
// number of mutations already applied.
package tasks
