// Package ui implements the interactive transfer monitor using bubbletea's Elm architecture.
//
// The monitor walks through four views:
//  1. [SheetListView] : Browse sheets from the local store
//  2. [ConfirmView] : Pick download only or download then upload
//  3. [TransferView] : Watch every live transfer and cancel the selected one
//  4. [ResultView] : Display completed, skipped and failed transfers
//
// The [Model] never polls the queue. It subscribes to the transfer status topic on the event bus and the
// subscriber forwards decoded events into a channel that a tea.Cmd drains, one message per event. Cancellation
// runs as a tea.Cmd so the bus handler never calls back into the queue.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, d/u, x, q) with contextual help displayed via
// charmbracelet/bubbles/help.
package ui
