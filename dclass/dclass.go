// Package dclass describes the distributed-class registry the agent
// consults for class hashes and per-field send permissions. The registry
// itself — parsing a .dc file, assigning field numbers — is an external
// collaborator; this package only defines the interfaces the agent needs
// and a small in-memory Registry good enough to drive the agent and its
// tests without a real parser attached.
package dclass

// FieldType is the wire shape of a field's value, enough for a cursor
// to copy exactly that field's encoded bytes without interpreting them.
// A real .dc parser would carry richer type information (arrays,
// structs, method signatures); this is the subset spec.md's unpack_field
// needs to walk the wire format.
type FieldType int

const (
	FieldUint8 FieldType = iota
	FieldInt8
	FieldUint16
	FieldInt16
	FieldUint32
	FieldInt32
	FieldUint64
	FieldInt64
	FieldFloat32
	FieldFloat64
	FieldString // u16 length prefix + bytes
	FieldBlob   // u16 length prefix + bytes
	FieldFixed  // Size opaque bytes, no length prefix
)

// ParseFieldType maps a configuration-file type name to a FieldType, for
// building a Registry from static YAML rather than a parsed .dc file.
func ParseFieldType(name string) (FieldType, bool) {
	switch name {
	case "uint8":
		return FieldUint8, true
	case "int8":
		return FieldInt8, true
	case "uint16":
		return FieldUint16, true
	case "int16":
		return FieldInt16, true
	case "uint32":
		return FieldUint32, true
	case "int32":
		return FieldInt32, true
	case "uint64":
		return FieldUint64, true
	case "int64":
		return FieldInt64, true
	case "float32":
		return FieldFloat32, true
	case "float64":
		return FieldFloat64, true
	case "string":
		return FieldString, true
	case "blob":
		return FieldBlob, true
	case "fixed":
		return FieldFixed, true
	default:
		return 0, false
	}
}

// Field describes one field of a distributed class: its wire index,
// wire shape, and the send permissions the client session must enforce.
type Field struct {
	Index   uint16
	Name    string
	Type    FieldType
	Size    uint16 // only meaningful for FieldFixed: its byte width
	ClSend  bool   // settable by any established client
	OwnSend bool   // settable by the client owning the object
}

// Class is a named collection of fields, addressable by field index.
type Class struct {
	Number uint16
	Name   string
	Fields map[uint16]Field
}

// FieldByIndex returns the field with the given wire index, if the class
// declares one.
func (c *Class) FieldByIndex(index uint16) (Field, bool) {
	f, ok := c.Fields[index]
	return f, ok
}

// Registry is the read-only, process-wide view of the distributed class
// hierarchy that the client session consults. A real installation would
// satisfy this from a generated or parsed .dc file; InMemory below is
// the reference implementation used by this repository and its tests.
type Registry interface {
	// Hash returns the stable hash clients must present in CLIENT_HELLO.
	Hash() uint32
	// ClassByName looks up a class by its declared name.
	ClassByName(name string) (*Class, bool)
	// ClassByNumber looks up a class by its wire-assigned number.
	ClassByNumber(number uint16) (*Class, bool)
}

// InMemory is a Registry populated directly by the embedding process
// (e.g. from static configuration) rather than parsed from a .dc file.
type InMemory struct {
	hash    uint32
	byName  map[string]*Class
	byNum   map[uint16]*Class
}

func NewInMemory(hash uint32) *InMemory {
	return &InMemory{
		hash:   hash,
		byName: make(map[string]*Class),
		byNum:  make(map[uint16]*Class),
	}
}

func (r *InMemory) Hash() uint32 { return r.hash }

func (r *InMemory) AddClass(c *Class) {
	r.byName[c.Name] = c
	r.byNum[c.Number] = c
}

func (r *InMemory) ClassByName(name string) (*Class, bool) {
	c, ok := r.byName[name]
	return c, ok
}

func (r *InMemory) ClassByNumber(number uint16) (*Class, bool) {
	c, ok := r.byNum[number]
	return c, ok
}
