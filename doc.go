// Package dpool implements a client-side connection pool that multiplexes a
// bounded set of reusable connections across a list of logically equivalent
// backend servers.
//
// The pool shards by server: each server gets its own idle-connection LIFO
// stack with an active-count cap, and a background health-checker promotes
// and demotes shards, demoting one only while strictly more than two thirds
// of them are available.
// Callers supply a Factory that knows how to dial the concrete connection
// type; the pool never inspects the connection's payload.
package dpool
