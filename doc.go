// Package automata hosts finite-state machines for many tenants.
//
// An Automata's behavior comes from a verified, content-addressed
// blueprint, and its state changes only by applying events.  Each
// application is a conditional write on the Automata's version, so
// concurrent writers never need a lock.
//
// The core code is in package 'core'.  Package 'automata' applies
// events, package 'blueprint' verifies and stores definitions, and
// package 'service' exposes it all over HTTP, websockets, and MQTT.
// The command is in `cmd/automatad`.
package automata
