// Package transfer moves media between platforms, the download directory and the backup store.
//
// A [Queue] runs one transfer per track under a bounded pool. Each transfer downloads,
// uploads, or downloads and then uploads, and reports its state on the event bus:
//
//	waiting -> downloading -> done
//	                       \-> error
//
// Progress is a single fraction across both phases. When a transfer downloads and uploads,
// the download covers the first half and the upload the second.
//
// Event handlers must not call back into the queue synchronously, since publishing waits
// for every subscriber.
package transfer
