// Package schema holds the registry of node types known to the client.
//
// Every object mirrored from the server has a type-id. The registry maps
// each type-id to a Descriptor (human readable name, positional data
// arity, sort class and constructor) and to the set of type-ids that may
// appear as its direct children.
//
// # Lifecycle
//
// A registry is populated once at process start, before any store is
// constructed:
//
//	reg := schema.NewRegistry()
//	reg.MustRegister(schema.Descriptor{ID: "F", Name: "folder", New: newFolder}).
//		AllowChild("F", "I")
//	reg.SetRoot("R")
//
// Constructing a store freezes the registry. Registration after that point
// fails with ErrFrozen, so containment rules cannot change while nodes
// exist.
//
// # Payloads
//
// The type-specific state of a node is a Payload. Payloads expose their
// positional data (Fields) and hydrate themselves from a server record
// (Load). Optional interfaces add capabilities: Validator, Comparer,
// Copier and Attribute.
package schema
