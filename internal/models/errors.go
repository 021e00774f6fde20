package models

import "errors"

// Error taxonomy. Transport-level failures are recovered locally
// (reconnect, default to empty); user-initiated failures are surfaced
// and require an explicit retry. Nothing in this engine escalates to a
// crash.
var (
	// ErrConnection: transport unreachable or authentication rejected.
	ErrConnection = errors.New("push channel unavailable")

	// ErrHistoryFetch: backlog fetch failed or timed out. Callers treat
	// this as an empty history, never as fatal.
	ErrHistoryFetch = errors.New("history fetch failed")

	// ErrSendFailure: transmission was not acknowledged as successful.
	// The optimistic entry has been rolled back.
	ErrSendFailure = errors.New("send failed")

	// ErrBlobPreparation: media could not be encoded; the send was
	// aborted before transmission.
	ErrBlobPreparation = errors.New("blob preparation failed")

	// ErrMembership: a group action was rejected. No local state was
	// mutated.
	ErrMembership = errors.New("group action rejected")
)
