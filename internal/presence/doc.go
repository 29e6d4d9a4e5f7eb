// Package presence records which mesh nodes the gateway has observed.
//
// Nodes are keyed by the last four characters of their full id. The key is
// not globally unique across a large mesh, so two nodes sharing a suffix
// share a record.
package presence
