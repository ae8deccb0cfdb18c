// Package dispersy implements the core of the Dispersy epidemic
// message-dissemination protocol: communities of members exchange
// authenticated, permissioned messages over an unreliable transport and
// converge on a shared history through periodic anti-entropy (bloom
// filter sync) rather than a consensus protocol.
//
// This package is the facade that wires together every subsystem:
// member identity and cryptography (member, crypto), the wire codec
// (wire), persistent storage (store), the permission state machine
// (timeline), batching and deduplication (batch), distribution
// policies (policy), sync/anti-entropy (antientropy), undo/revoke
// (undo), and network I/O (endpoint).
//
// # Getting started
//
// Create a Context, define a community's meta-messages, and drive it
// with Iterate:
//
//	ctx, err := dispersy.New(dispersy.DefaultOptions("./workingdir"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Kill()
//
//	community, err := ctx.CreateCommunity(masterKeyPair.Public, myKeyPair, "demo-community")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	community.DefineMeta(dispersy.MetaMessage{
//	    Name:         "demo-text",
//	    Distribution: dispersy.DistributionFullSync,
//	    Destination:  dispersy.DestinationCommunity,
//	    Resolution:   timeline.ResolutionPublic,
//	    Batch:        batch.Config{MaxWindow: time.Second, MaxSize: 64},
//	})
//
//	for ctx.IsRunning() {
//	    ctx.Iterate()
//	    time.Sleep(ctx.IterationInterval())
//	}
package dispersy
