package core

import "errors"

// Sentinel errors for the retrieval core. Callers wrap these with
// fmt.Errorf("...: %w", err) and branch with errors.Is.
var (
	// ErrEmptyDocument means extraction produced no usable text. Ingestion
	// aborts and nothing is upserted.
	ErrEmptyDocument = errors.New("document contains no usable text")

	// ErrInvalidDistance means a negative distance reached the relevance
	// scorer. This is a programming error and fails loudly.
	ErrInvalidDistance = errors.New("distance must be non-negative")

	// ErrIndexUnavailable means the vector store is unreachable. The query
	// path degrades to an empty-context response; the ingestion path fails
	// the whole request.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrLLMTimeout means the language model did not answer within the
	// configured timeout.
	ErrLLMTimeout = errors.New("language model timed out")

	// ErrLLMConnection means the language model endpoint was unreachable.
	ErrLLMConnection = errors.New("language model unreachable")

	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.New("not found")
)
