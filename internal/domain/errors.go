package domain

import "errors"

// Error taxonomy. Validation and mismatch errors are always surfaced, never
// swallowed; store errors are retried only at ingestion time.
var (
	// ErrValidation marks a malformed or out-of-domain input record,
	// rejected before encoding.
	ErrValidation = errors.New("validation error")

	// ErrEncoderMismatch marks a vector produced under a stale or
	// incompatible encoder state version. The caller must re-fit or
	// re-encode; the engine never papers over it.
	ErrEncoderMismatch = errors.New("encoder state mismatch")

	// ErrStoreUnavailable marks a transient vector store failure (timeout,
	// connection loss).
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrStoreInternal marks a permanent vector store failure.
	ErrStoreInternal = errors.New("vector store error")

	// ErrNoEncoderState means the tenant has no fitted encoder yet; the
	// corpus must be ingested before queries can run.
	ErrNoEncoderState = errors.New("no encoder state fitted")

	// ErrEmptyCorpus means a fit was attempted over zero usable records.
	ErrEmptyCorpus = errors.New("empty corpus")
)
