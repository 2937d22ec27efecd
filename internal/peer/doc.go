// Package peer runs activity managers as peers on a network.
//
// A Peer pairs a workflow.Manager with a Transport and keeps the mapping
// between logical peer identities and network targets. Identities are
// learned through the affirm-identity activity, which a Peer starts for
// every network target that joins while bootstrap affirmation is enabled.
//
// Network is an in-process loopback Transport: every message is encoded
// to its JSON envelope on send and decoded on delivery, so activities see
// exactly what a remote peer would have sent. Each Endpoint delivers its
// inbound messages in arrival order on a single goroutine.
package peer
