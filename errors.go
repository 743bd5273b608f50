package ragheal

import "errors"

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("ragheal: invalid configuration")

	// ErrUnknownOperation is returned by Invoke for an unrecognized
	// operation name.
	ErrUnknownOperation = errors.New("ragheal: unknown operation")
)

// The remaining per-stage failure sentinels live in the leaf package
// that produces them, since those packages must not import this root
// package (it would cycle back through Engine's wiring of them):
// session.ErrSessionNotFound, session.ErrPermissionDenied,
// session.ErrChatModeElevationDenied, session.ErrInvalidCommand,
// session.ErrInvalidResponseMode, parser.ErrUnsupportedFormat,
// ingest.ErrParsingFailed, ingest.ErrEmbeddingFailed, llm.ErrUnavailable,
// retrieval.ErrNoResults, and store.ErrDocumentNotFound.
