// Package sigmaerr holds the sentinel errors shared across the SIGMA/SIGMA2
// core's components (spec.md §7). fpgaloader, trigger and acq report their
// own failures with these, wrapped with fmt.Errorf("...: %w", ...) where
// additional context (the underlying I/O error, the offending samplerate,
// etc.) is useful; callers use errors.Is against the sentinels below.
// regcodec returns link errors unwrapped, and some of them (for example
// from ReadPosition) reach acq's callers unchanged.
package sigmaerr

import "errors"

var (
	// ErrIoFail marks a bridge read/write that was short or failed
	// outright. The caller should abort the capture and return to Idle.
	ErrIoFail = errors.New("sigma: i/o failure on device link")

	// ErrBufferTooSmall marks an attempt to encode a register command
	// frame larger than the codec's fixed scratch frame. This is a
	// programming error, not an I/O failure, and is never retried.
	ErrBufferTooSmall = errors.New("sigma: encoded command frame too large")

	// ErrTimeout marks the PROG/INIT handshake failing to observe
	// BIT_INIT asserted within its bounded poll, or the download failing
	// to observe RMR_POSTTRIGGERED within its bounded poll.
	ErrTimeout = errors.New("sigma: timed out waiting for device")

	// ErrFpgaInitFailed marks an ID or scratch-register mismatch after
	// the bitbang upload completed.
	ErrFpgaInitFailed = errors.New("sigma: fpga id/scratch verification failed")

	// ErrUnsupportedSamplerate marks a samplerate outside the canonical
	// set.
	ErrUnsupportedSamplerate = errors.New("sigma: unsupported samplerate")

	// ErrUnsupportedTrigger marks a symbolic trigger spec that violates
	// the samplerate-dependent trigger validation rules.
	ErrUnsupportedTrigger = errors.New("sigma: unsupported trigger configuration")

	// ErrResourceMissing marks a firmware load failure from the external
	// resource loader.
	ErrResourceMissing = errors.New("sigma: firmware resource missing")
)
