// Package backup pushes sheet snapshots to the backup store and applies snapshots from it or
// from local files.
//
// Applying a snapshot goes through [tasks.SheetEngine], so every flow shares the same resume
// policies. AutoPull remembers the content hash of the last snapshot it applied or pushed and
// skips unchanged snapshots.
package backup
