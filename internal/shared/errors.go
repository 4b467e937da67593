package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Remote store errors
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrObjectNotFound     = fmt.Errorf("object not found")
	ErrSnapshotNotFound   = fmt.Errorf("snapshot not found")
	ErrInvalidSnapshot    = fmt.Errorf("invalid snapshot")

	// Sheet store errors
	ErrSheetNotFound = fmt.Errorf("sheet not found")
	ErrDefaultSheet  = fmt.Errorf("default sheet cannot be removed")
	ErrPartialMerge  = fmt.Errorf("merge stopped partway")

	// Transfer errors
	ErrNoPlayableSource    = fmt.Errorf("no playable source")
	ErrTransferIO          = fmt.Errorf("transfer failed")
	ErrUploadAfterDownload = fmt.Errorf("downloaded but upload failed")
	ErrCancelled           = fmt.Errorf("transfer cancelled")
	ErrInvalidConcurrency  = fmt.Errorf("invalid concurrency")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
