// Package endpoint implements Dispersy's Endpoint abstraction: sending
// and receiving raw wire packets to and from candidates (address:port
// pairs), independent of whether the candidate is reached over a real
// UDP socket or an in-memory simulation used for tests.
//
// This replaces the teacher's friend-oriented packet-delivery stack
// (its factory/interfaces/real/testing packages, built around a
// friendID→address mapping) with a candidate-oriented one: Dispersy
// addresses peers by network candidate, not by a pre-established
// friend relationship, so the same Send/RegisterHandler surface is
// kept but re-keyed on endpoint.Candidate throughout.
package endpoint

import "errors"

var (
	// ErrUnknownCandidate is returned by SimulatedEndpoint.Send when no
	// peer is registered at the destination candidate.
	ErrUnknownCandidate = errors.New("endpoint: no peer registered at candidate")
	// ErrClosed is returned by Send on an already-closed endpoint.
	ErrClosed = errors.New("endpoint: closed")
)
