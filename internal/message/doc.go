// Package message defines the envelope exchanged between peers.
//
// A Message is an untyped key/value structure. The engine reads only a
// handful of well-known fields (performative, conversation-id, activity type,
// parent scope, reply pairing); everything else is opaque payload that
// activities interpret themselves.
//
// Canonical JSON (RFC 8785 key ordering, NFC strings) is used for message
// digests so that the same envelope always hashes to the same value
// regardless of map iteration order.
package message
