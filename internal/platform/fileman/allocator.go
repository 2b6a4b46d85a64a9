package fileman

// Allocator hands out IENs for one file, strictly increasing and without
// gaps. An offset lets independent batches occupy disjoint IEN ranges.
type Allocator struct {
	offset IEN
	last   IEN
}

// NewAllocator returns an allocator whose first IEN is offset+1.
func NewAllocator(offset IEN) *Allocator {
	if offset < 0 {
		offset = 0
	}
	return &Allocator{offset: offset, last: offset}
}

// Peek returns the IEN the next call to Next will return.
func (a *Allocator) Peek() IEN { return a.last + 1 }

// Next allocates an IEN.
func (a *Allocator) Next() IEN {
	a.last++
	return a.last
}

// CurrentMax returns the highest IEN allocated so far; ok is false when
// Next has never been called.
func (a *Allocator) CurrentMax() (IEN, bool) {
	if a.last == a.offset {
		return 0, false
	}
	return a.last, true
}

// Count returns the number of IENs allocated.
func (a *Allocator) Count() int64 { return int64(a.last - a.offset) }
