package gc

// Heap owns every heap object allocated during a VM run: one intrusive
// list per object kind, rooted here, plus the byte accounting that drives
// when the next collection triggers.
type Heap struct {
	strings   Object
	arrays    Object
	maps      Object
	records   Object
	instances Object
	buffers   Object

	bytes   int64
	nextGC  int64
}

const initialNextGC = 1 << 16 // 64KiB floor

// NewHeap creates an empty heap with its first collection threshold set
// to the minimum floor.
func NewHeap() *Heap {
	return &Heap{nextGC: initialNextGC}
}

// Bytes reports the heap's currently-live byte estimate.
func (h *Heap) Bytes() int64 { return h.bytes }

// ShouldCollect reports whether live bytes have crossed the next-GC
// threshold; the VM calls this at opcode boundaries.
func (h *Heap) ShouldCollect() bool { return h.bytes >= h.nextGC }

func stringSize(n int) int64  { return int64(32 + n) }
func arraySize(n int) int64   { return int64(32 + n*32) }
func mapSize(n int) int64     { return int64(32 + n*16) }
func recordSize(n int) int64  { return int64(24 + n*32) }
func bufferSize(n int) int64  { return int64(32 + n) }

// NewString allocates a fresh owned copy of b.
func (h *Heap) NewString(b []byte) *String {
	s := &String{Bytes: append([]byte(nil), b...)}
	s.setNext(h.strings)
	h.strings = s
	h.bytes += stringSize(len(b))
	return s
}

// NewArray allocates an array seeded with elems (copied).
func (h *Heap) NewArray(elems []Value) *Array {
	a := &Array{Elems: append([]Value(nil), elems...)}
	a.setNext(h.arrays)
	h.arrays = a
	h.bytes += arraySize(len(elems))
	return a
}

// Push appends v to a, growing capacity geometrically (Go's append already
// does this; the accounting below mirrors the byte-cost model).
func (h *Heap) Push(a *Array, v Value) {
	before := cap(a.Elems)
	a.Elems = append(a.Elems, v)
	if cap(a.Elems) != before {
		h.bytes += arraySize(cap(a.Elems) - before)
	}
}

// NewMap allocates an empty map.
func (h *Heap) NewMap() *Map {
	m := NewMap()
	m.setNext(h.maps)
	h.maps = m
	h.bytes += mapSize(len(m.slots))
	return m
}

// NewRecord allocates a struct instance with typeID and fieldCount
// null-initialized slots.
func (h *Heap) NewRecord(typeID, fieldCount int) *Record {
	r := &Record{TypeID: typeID, Fields: make([]Value, fieldCount)}
	for i := range r.Fields {
		r.Fields[i] = Null()
	}
	r.setNext(h.records)
	h.records = r
	h.bytes += recordSize(fieldCount)
	return r
}

// NewInstance allocates a class instance, analogous to NewRecord.
func (h *Heap) NewInstance(typeID, fieldCount int) *Instance {
	inst := &Instance{TypeID: typeID, Fields: make([]Value, fieldCount)}
	for i := range inst.Fields {
		inst.Fields[i] = Null()
	}
	inst.setNext(h.instances)
	h.instances = inst
	h.bytes += recordSize(fieldCount)
	return inst
}

// NewBuffer allocates a buffer seeded with a copy of b.
func (h *Heap) NewBuffer(b []byte) *Buffer {
	buf := &Buffer{Bytes: append([]byte(nil), b...)}
	buf.setNext(h.buffers)
	h.buffers = buf
	h.bytes += bufferSize(len(b))
	return buf
}

// PushByte appends a single byte to buf, mirroring Push's byte accounting.
func (h *Heap) PushByte(buf *Buffer, b byte) {
	before := cap(buf.Bytes)
	buf.Bytes = append(buf.Bytes, b)
	if cap(buf.Bytes) != before {
		h.bytes += bufferSize(cap(buf.Bytes) - before)
	}
}

// Roots is every external reference into the heap the collector must
// start marking from: the value stack (up to its current top), the
// locals array (up to locals_top), and the module's interned strings.
type Roots struct {
	Stack  []Value
	Locals []Value
	Interned []Value
}

// Collect runs one mark-and-sweep cycle: mark everything reachable from
// roots, sweep each per-kind list freeing unmarked objects, then reset
// nextGC to twice the surviving size (respecting the floor).
func (h *Heap) Collect(roots Roots) {
	for _, v := range roots.Stack {
		markValue(v)
	}
	for _, v := range roots.Locals {
		markValue(v)
	}
	for _, v := range roots.Interned {
		markValue(v)
	}

	h.strings, h.bytes = sweep(h.strings, h.bytes, func(o Object) int64 {
		return stringSize(len(o.(*String).Bytes))
	})
	h.arrays, h.bytes = sweep(h.arrays, h.bytes, func(o Object) int64 {
		return arraySize(len(o.(*Array).Elems))
	})
	h.maps, h.bytes = sweep(h.maps, h.bytes, func(o Object) int64 {
		return mapSize(len(o.(*Map).slots))
	})
	h.records, h.bytes = sweep(h.records, h.bytes, func(o Object) int64 {
		return recordSize(len(o.(*Record).Fields))
	})
	h.instances, h.bytes = sweep(h.instances, h.bytes, func(o Object) int64 {
		return recordSize(len(o.(*Instance).Fields))
	})
	h.buffers, h.bytes = sweep(h.buffers, h.bytes, func(o Object) int64 {
		return bufferSize(len(o.(*Buffer).Bytes))
	})

	next := h.bytes * 2
	if next < initialNextGC {
		next = initialNextGC
	}
	h.nextGC = next
}

func markValue(v Value) {
	switch v.Kind {
	case KindString, KindArray, KindMap, KindRecord, KindInstance, KindBuffer:
		if v.Obj != nil {
			markObject(v.Obj)
		}
	}
}

func markObject(o Object) {
	if o.marked() {
		return
	}
	o.mark()
	switch obj := o.(type) {
	case *Array:
		for _, e := range obj.Elems {
			markValue(e)
		}
	case *Map:
		for _, s := range obj.slots {
			if s.status == slotOccupied {
				markValue(s.key)
				markValue(s.value)
			}
		}
	case *Record:
		for _, f := range obj.Fields {
			markValue(f)
		}
	case *Instance:
		for _, f := range obj.Fields {
			markValue(f)
		}
	}
}

// sweep walks a per-kind intrusive list, freeing unmarked nodes and
// clearing the mark bit on survivors; it returns the new list head and
// updated byte total.
func sweep(head Object, bytes int64, size func(Object) int64) (Object, int64) {
	var newHead, tail Object
	for o := head; o != nil; {
		next := o.next()
		if o.marked() {
			o.unmark()
			o.setNext(nil)
			if tail == nil {
				newHead = o
			} else {
				tail.setNext(o)
			}
			tail = o
		} else {
			bytes -= size(o)
		}
		o = next
	}
	return newHead, bytes
}
