// Package store is the client side mirror of the server object tree.
//
// A Store holds an identity map from OID to *Node. Every server object is
// represented by at most one Node per store, so callers can compare nodes
// by pointer. Nodes arrive in two ways: they are committed by the client
// (CommitChild mints an OID through the repository) or loaded from
// repository records (Fetch, Search, GetOIDs and LoadBatch).
//
// # Lazy Materialization
//
// Children are fetched the first time ListChildren is called on a node.
// Traverse and LocalSearch only ever look at what is already mirrored.
//
// # Node States
//
// A node is Pending until it is committed, Committed while it is mirrored,
// and Purged once it has been deleted or detached. A purged node rejects
// every operation with ErrPurged.
//
// Operations that call the repository return *RemoteError on failure and
// leave the mirror unchanged.
package store
