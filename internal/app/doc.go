// Package app builds the process-wide object graph from configuration.
//
// Commands create one [App] with [New], use its collaborators, and release them with [App.Close].
package app
