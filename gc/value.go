// Package gc implements the tagged runtime Value union, the heap object
// layouts it can point to (strings, arrays, maps, records/class instances),
// and a mark-and-sweep collector over them.
package gc

import "fmt"

// Kind tags a Value's active variant.
type Kind byte

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindNull
	KindString
	KindArray
	KindMap
	KindRecord
	KindInstance
	KindBuffer
)

// Value is the VM's tagged runtime value: primitives are stored inline,
// heap variants carry a pointer into one of the GC's per-type object
// lists.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	Obj   Object
}

// Object is implemented by every heap-allocated value. Mark/marked let the
// collector flip and query the header's mark bit without a type switch.
type Object interface {
	mark()
	marked() bool
	unmark()
	next() Object
	setNext(Object)
}

// header is embedded by every heap object: the GC mark bit and the
// intrusive next-pointer linking it into its per-type list.
type header struct {
	isMarked bool
	nextObj  Object
}

func (h *header) mark()          { h.isMarked = true }
func (h *header) marked() bool   { return h.isMarked }
func (h *header) unmark()        { h.isMarked = false }
func (h *header) next() Object   { return h.nextObj }
func (h *header) setNext(o Object) { h.nextObj = o }

// String is an owned, immutable ASCII-clean byte buffer.
type String struct {
	header
	Bytes []byte
}

func (s *String) String() string { return string(s.Bytes) }

// Array is a growable element buffer.
type Array struct {
	header
	Elems []Value
}

// Buffer is a growable, mutable byte buffer, distinct from String (which is
// immutable once created): buf_push appends in place rather than allocating
// a new owner.
type Buffer struct {
	header
	Bytes []byte
}

// mapStatus tags a Map slot's occupancy in the open-addressed table.
type mapStatus byte

const (
	slotEmpty mapStatus = iota
	slotOccupied
	slotTombstone
)

type mapSlot struct {
	status mapStatus
	key    Value
	value  Value
}

// Map is an open-addressed hash table keyed by int/bool/string values.
type Map struct {
	header
	slots     []mapSlot
	count     int
	tombstone int
}

// NewMap creates an empty map with a small initial capacity.
func NewMap() *Map {
	return &Map{slots: make([]mapSlot, 8)}
}

func hashValue(v Value) uint64 {
	switch v.Kind {
	case KindInt:
		return uint64(v.Int) * 2654435761
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindString:
		s := v.Obj.(*String)
		var h uint64 = 14695981039346656037
		for _, b := range s.Bytes {
			h ^= uint64(b)
			h *= 1099511628211
		}
		return h
	default:
		return 0
	}
}

func valuesEqual(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindBool:
		return a.Bool == b.Bool
	case KindNull:
		return true
	case KindString:
		return a.Obj.(*String).String() == b.Obj.(*String).String()
	default:
		return a.Obj == b.Obj
	}
}

// Get looks up key, distinguishing an empty slot (stop probing) from a
// tombstone (keep probing).
func (m *Map) Get(key Value) (Value, bool) {
	if len(m.slots) == 0 {
		return Value{}, false
	}
	idx := hashValue(key) % uint64(len(m.slots))
	for i := 0; i < len(m.slots); i++ {
		slot := &m.slots[(idx+uint64(i))%uint64(len(m.slots))]
		if slot.status == slotEmpty {
			return Value{}, false
		}
		if slot.status == slotOccupied && valuesEqual(slot.key, key) {
			return slot.value, true
		}
	}
	return Value{}, false
}

// Set inserts or updates key, rehashing first if the load factor
// (occupied + tombstones) exceeds 0.7.
func (m *Map) Set(key, value Value) {
	if m.count+m.tombstone+1 > len(m.slots)*7/10 {
		m.rehash()
	}
	idx := hashValue(key) % uint64(len(m.slots))
	firstTombstone := -1
	for i := 0; i < len(m.slots); i++ {
		pos := (idx + uint64(i)) % uint64(len(m.slots))
		slot := &m.slots[pos]
		if slot.status == slotOccupied && valuesEqual(slot.key, key) {
			slot.value = value
			return
		}
		if slot.status == slotTombstone && firstTombstone == -1 {
			firstTombstone = int(pos)
		}
		if slot.status == slotEmpty {
			target := pos
			if firstTombstone != -1 {
				target = uint64(firstTombstone)
				m.tombstone--
			} else {
				m.count++
			}
			m.slots[target] = mapSlot{status: slotOccupied, key: key, value: value}
			return
		}
	}
	m.rehash()
	m.Set(key, value)
}

// Delete marks key's slot as a tombstone so later probes continue past it.
func (m *Map) Delete(key Value) bool {
	if len(m.slots) == 0 {
		return false
	}
	idx := hashValue(key) % uint64(len(m.slots))
	for i := 0; i < len(m.slots); i++ {
		slot := &m.slots[(idx+uint64(i))%uint64(len(m.slots))]
		if slot.status == slotEmpty {
			return false
		}
		if slot.status == slotOccupied && valuesEqual(slot.key, key) {
			slot.status = slotTombstone
			m.count--
			m.tombstone++
			return true
		}
	}
	return false
}

func (m *Map) rehash() {
	old := m.slots
	newCap := len(old) * 2
	if newCap < 8 {
		newCap = 8
	}
	m.slots = make([]mapSlot, newCap)
	m.count = 0
	m.tombstone = 0
	for _, s := range old {
		if s.status == slotOccupied {
			m.Set(s.key, s.value)
		}
	}
}

// Len reports the number of live (non-tombstone) entries.
func (m *Map) Len() int { return m.count }

// Keys returns the map's live keys in slot order (unspecified but stable
// for a given internal layout).
func (m *Map) Keys() []Value {
	keys := make([]Value, 0, m.count)
	for _, s := range m.slots {
		if s.status == slotOccupied {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// Record is a struct instance: a fixed-size field-value slot array plus
// the struct type's index in the module's struct-type table.
type Record struct {
	header
	TypeID int
	Fields []Value
}

// Instance is a class instance, kept as a distinct heap kind from Record
// per the data model even though its layout (type id + field slots) is
// identical; method dispatch against it is a stubbed extension (see
// the VM's OpStub handling).
type Instance struct {
	header
	TypeID int
	Fields []Value
}

// Int/Float/Bool/Null/Str are Value constructors for the primitive kinds.
func Int(v int64) Value   { return Value{Kind: KindInt, Int: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func Bool(v bool) Value   { return Value{Kind: KindBool, Bool: v} }
func Null() Value         { return Value{Kind: KindNull} }

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindNull:
		return "null"
	case KindString:
		return v.Obj.(*String).String()
	case KindArray:
		return "<array>"
	case KindMap:
		return "<map>"
	case KindRecord:
		return "<record>"
	case KindInstance:
		return "<instance>"
	case KindBuffer:
		return "<buffer>"
	default:
		return "<?>"
	}
}

// Truthy implements the VM's notion of a boolean condition value.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNull:
		return false
	default:
		return true
	}
}
