// Package batch implements Dispersy's per-meta-message batching and
// deduplication (spec.md §4.5). Incoming packets of the same
// meta-message accumulate into a pending queue; a flush is triggered
// when the oldest queued packet exceeds the meta-message's configured
// window or the queue reaches its configured size. A flush runs four
// steps in order: collapse byte-identical packets, drop packets that
// already have a stored row (before verification), verify signatures,
// then run the timeline check — only packets that survive all four
// reach policy evaluation.
package batch

import "errors"

// ErrUnknownMeta is returned by Add/Flush when no Config has been
// registered for a meta-message name.
var ErrUnknownMeta = errors.New("batch: unknown meta-message")
