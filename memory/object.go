package memory

import "fmt"

// Slot and record sizing. All heap accounting is done in slots; one slot holds
// one reference. BytesPerSlot only matters for translating the byte sizes in
// the configuration.
const (
	BytesPerSlot = 8

	// HeaderSlots is the room an object header occupies in its space, in
	// slots: class, field count, the two flags words, and the identity.
	HeaderSlots = 4
)

// ClassInstanceFlagsIndex is the well-known field on class descriptors that
// holds the instance flags, copied into every new instance. The index is part
// of the class-model contract and must not change.
const ClassInstanceFlagsIndex = 8

// Zone tags where an object currently resides.
type Zone uint8

const (
	ZoneUnset Zone = iota
	ZoneYoung
	ZoneMature
	ZoneLarge
)

// String returns a human-readable version of the zone, for debugging.
func (z Zone) String() string {
	switch z {
	case ZoneYoung:
		return "young"
	case ZoneMature:
		return "mature"
	case ZoneLarge:
		return "large"
	default:
		return "unset"
	}
}

// Type is the runtime type tag of a heap object or immediate.
type Type uint8

const (
	TypeObject Type = iota
	TypeClass
	TypeString
	TypeTuple
	TypeChannel
	TypeThread
	TypeException
	TypeFixnum // immediates only; never a heap object's tag
)

// String returns the type tag's name.
func (t Type) String() string {
	switch t {
	case TypeObject:
		return "Object"
	case TypeClass:
		return "Class"
	case TypeString:
		return "String"
	case TypeTuple:
		return "Tuple"
	case TypeChannel:
		return "Channel"
	case TypeThread:
		return "Thread"
	case TypeException:
		return "Exception"
	case TypeFixnum:
		return "Fixnum"
	default:
		return "!err"
	}
}

// Ref is one slot value: the nil sentinel, a fixnum immediate, or a heap
// object reference. The zero value is nil.
type Ref struct {
	obj *Object
	fix int64
	imm bool
}

// Nil is the nil sentinel.
var Nil = Ref{}

// NewRef returns a reference to a heap object.
func NewRef(obj *Object) Ref {
	if obj == nil {
		return Nil
	}
	return Ref{obj: obj}
}

// NewFixnum returns a fixnum immediate.
func NewFixnum(n int64) Ref {
	return Ref{fix: n, imm: true}
}

// IsNil reports whether the slot holds the nil sentinel.
func (r Ref) IsNil() bool {
	return r.obj == nil && !r.imm
}

// IsFixnum reports whether the slot holds a fixnum immediate.
func (r Ref) IsFixnum() bool {
	return r.imm
}

// IsReference reports whether the slot holds a heap object.
func (r Ref) IsReference() bool {
	return r.obj != nil
}

// Fixnum returns the immediate value. Only valid when IsFixnum.
func (r Ref) Fixnum() int64 {
	return r.fix
}

// Object returns the heap object. Only valid when IsReference.
func (r Ref) Object() *Object {
	return r.obj
}

// String describes the value, for error messages and tracing.
func (r Ref) String() string {
	switch {
	case r.imm:
		return fmt.Sprintf("fixnum %d", r.fix)
	case r.obj != nil:
		return fmt.Sprintf("#<%s:%d>", r.obj.typ, r.obj.id)
	default:
		return "nil"
	}
}

// GC bookkeeping bits in the second flags word.
const (
	gcFlagForwarded uint32 = 1 << iota
	gcFlagMarked
	gcFlagScanned
)

// Object is one heap record: a fixed header plus field slots carved inline
// from the owning space's backing array. Objects are created only through the
// allocator entry points and are mutated only by program execution or by the
// collector.
type Object struct {
	// klass is the owning class descriptor, nil only for the earliest
	// bootstrap objects. While the object is forwarded, the collector
	// reinterprets this slot as the forwarding target.
	klass Ref

	// fields are the instance slots. The count is fixed at creation.
	fields []Ref

	flags   uint32 // copied from the class's instance-flags slot at creation
	gcFlags uint32 // mark/forwarding state, owned by the collector
	zone    Zone
	typ     Type
	age     uint8 // collections survived, drives promotion

	// id is the identity value, unique and strictly increasing within one
	// ObjectMemory.
	id uint64

	// space is the young space whose backing holds the fields, nil outside
	// the young generation.
	space *Space

	// spilled marks a record allocated directly into the next space because
	// the current space was full. Spilled survivors are promoted rather than
	// copied again.
	spilled bool

	// next chains mature objects for the sweep pass.
	next *Object
}

// Class returns the owning class descriptor.
func (o *Object) Class() Ref {
	if gcAsserts && o.Forwarded() {
		runtimePanic("memory: reading the class of a forwarded object")
	}
	return o.klass
}

// NumFields returns the field count fixed at creation.
func (o *Object) NumFields() int {
	return len(o.fields)
}

// Field returns the idx'th field slot.
func (o *Object) Field(idx int) Ref {
	if gcAsserts && (idx < 0 || idx >= len(o.fields)) {
		runtimePanic("memory: field index out of range")
	}
	return o.fields[idx]
}

// SetField stores val into the idx'th field slot.
func (o *Object) SetField(idx int, val Ref) {
	if gcAsserts && (idx < 0 || idx >= len(o.fields)) {
		runtimePanic("memory: field index out of range")
	}
	o.fields[idx] = val
}

// Flags returns the instance-flags bitset.
func (o *Object) Flags() uint32 {
	return o.flags
}

// Zone returns where the object currently resides.
func (o *Object) Zone() Zone {
	return o.zone
}

// TypeTag returns the runtime type tag.
func (o *Object) TypeTag() Type {
	return o.typ
}

// ID returns the identity value.
func (o *Object) ID() uint64 {
	return o.id
}

// Age returns the number of collections the object has survived.
func (o *Object) Age() int {
	return int(o.age)
}

// Forwarded reports whether the object has been moved by a collection and its
// class slot holds the new location.
func (o *Object) Forwarded() bool {
	return o.gcFlags&gcFlagForwarded != 0
}

// ForwardedLocation returns the post-copy location of a forwarded object.
func (o *Object) ForwardedLocation() *Object {
	if gcAsserts && !o.Forwarded() {
		runtimePanic("memory: forwarded location of an unforwarded object")
	}
	return o.klass.obj
}

// setForward overwrites the record with a forwarding marker. Only the
// collector calls this, inside a total mutator pause.
func (o *Object) setForward(to *Object) {
	o.gcFlags |= gcFlagForwarded
	o.klass = NewRef(to)
}

func (o *Object) marked() bool {
	return o.gcFlags&gcFlagMarked != 0
}

func (o *Object) setMarked()   { o.gcFlags |= gcFlagMarked }
func (o *Object) clearMarked() { o.gcFlags &^= gcFlagMarked }

// initHeader fills in a freshly carved record. The instance flags come from
// the class's well-known instance-flags slot when the class is itself a heap
// reference, and are zero otherwise.
func (o *Object) initHeader(cls Ref, zone Zone, typ Type, id uint64) {
	o.klass = cls
	o.flags = 0
	if cls.IsReference() {
		cl := cls.Object()
		if ClassInstanceFlagsIndex < cl.NumFields() {
			if f := cl.Field(ClassInstanceFlagsIndex); f.IsFixnum() {
				o.flags = uint32(f.Fixnum())
			}
		}
	}
	o.gcFlags = 0
	o.zone = zone
	o.typ = typ
	o.age = 0
	o.id = id
}

// ClearFields sets every field slot to the nil sentinel.
func (o *Object) ClearFields() {
	for i := range o.fields {
		o.fields[i] = Nil
	}
}

// slotSize returns the record size in slots for the given field count.
func slotSize(fields int) int {
	return HeaderSlots + fields
}
