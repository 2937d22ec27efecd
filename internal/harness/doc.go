// Package harness runs conformance scenarios against real peers.
//
// A scenario starts a set of peers on one loopback network, executes a
// list of steps and checks the outcome of each step:
//
//	name: echo-round-trip
//	description: alice echoes a greeting through bob
//	peers:
//	  - name: alice
//	  - name: bob
//	steps:
//	  - id: greet
//	    peer: alice
//	    initiate: echo
//	    target: bob
//	    content: hello
//	    expect:
//	      state: Completed
//
// Steps either initiate an activity on a peer (echo, survey, affirm), send
// a raw message from a probe endpoint, or wait for an earlier step. Every
// peer runs with sequential activity ids, so the per-activity state
// histories of a run are deterministic and can be compared against golden
// files.
package harness
