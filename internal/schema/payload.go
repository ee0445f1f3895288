package schema

// Payload is the type-specific state carried by a node.
type Payload interface {
	// Fields returns the positional data of the payload. It is what gets
	// sent with a create call and what the server hands back in records,
	// so len(Fields()) always equals the descriptor arity.
	Fields() []any

	// Load hydrates the payload from positional data. The resolver sees
	// every node already registered in the store, including the one being
	// loaded.
	Load(fields []any, r Resolver) error
}

// Resolver looks up payloads of nodes already mirrored by a store.
type Resolver interface {
	Resolve(oid string) (Payload, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(oid string) (Payload, bool)

// Resolve implements Resolver
func (f ResolverFunc) Resolve(oid string) (Payload, bool) {
	return f(oid)
}

// Validator is implemented by payloads that need a check before they are
// committed to the server.
type Validator interface {
	Validate() error
}

// Comparer gives a natural order between payloads of the same sort class.
// ok is false when the two payloads cannot be ordered against each other.
type Comparer interface {
	Compare(other Payload) (result int, ok bool)
}

// Copier returns the constructor arguments needed to recreate the payload
// under another parent.
type Copier interface {
	CopyArgs() []any
}

// Attribute is implemented by name/value payloads attached to other nodes.
type Attribute interface {
	AttributeName() string
	AttributeType() string
	AttributeValue() any
}

// Addressed is implemented by payloads that carry a network address.
type Addressed interface {
	AddressString() string
}
