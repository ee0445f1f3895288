// Package repository defines the remote collaborator of the object store.
//
// The server owns every persistent node. The client only ever sees it
// through the Repository interface: it asks for OIDs to be minted, nodes
// to be deleted, moved or linked, and pulls records back in pages.
//
// # Records
//
// A Record is the wire-neutral shape of one node: OID, type-id, parent
// OID, positional data, outgoing association OIDs, incoming reference OIDs
// and creation time. Positional data is type specific; its length must
// match the arity the schema registry declares for the type.
//
// # Paging
//
// Fetch and Search return the first page of results. A non-empty Next
// cursor means more pages are available through FetchNext/SearchNext.
//
// # SQLite Implementation
//
// The sqlite subpackage is a single-file sandbox server. It enforces
// containment and arity the way the production server does, which makes
// it suitable for offline work and for tests. In-memory databases
// (":memory:") are used throughout the test suites.
package repository
