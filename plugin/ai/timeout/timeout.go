// Package timeout defines centralized timeout constants for AI operations.
package timeout

import "time"

const (
	// ChatTimeout is the timeout for a buffered completion.
	ChatTimeout = 2 * time.Minute

	// StreamTimeout is the timeout for streaming responses from LLM.
	StreamTimeout = 5 * time.Minute

	// PersistTimeout bounds the write of a reply after the caller has gone away.
	PersistTimeout = 10 * time.Second
)
