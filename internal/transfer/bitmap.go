package transfer

// Bitmap records which fragment indices have been accepted. Indices are
// 1-based to match the wire protocol; the set count is maintained on insert
// so completion checks never scan.
type Bitmap struct {
	bits  int
	count int
	data  []byte
}

// NewBitmap allocates a bitmap for indices 1..bits.
func NewBitmap(bits int) *Bitmap {
	if bits < 0 {
		bits = 0
	}
	return &Bitmap{
		bits: bits,
		data: make([]byte, (bits+7)/8),
	}
}

// Len returns the number of indices the bitmap covers.
func (b *Bitmap) Len() int {
	if b == nil {
		return 0
	}
	return b.bits
}

// InRange reports whether i is a valid 1-based index.
func (b *Bitmap) InRange(i int64) bool {
	return b != nil && i >= 1 && i <= int64(b.bits)
}

// Has reports whether index i has been marked.
func (b *Bitmap) Has(i int64) bool {
	if !b.InRange(i) {
		return false
	}
	pos := i - 1
	return b.data[pos/8]&(1<<uint(pos%8)) != 0
}

// Mark sets index i and reports whether it was newly set. Out-of-range and
// already-set indices return false and leave the bitmap unchanged.
func (b *Bitmap) Mark(i int64) bool {
	if !b.InRange(i) || b.Has(i) {
		return false
	}
	pos := i - 1
	b.data[pos/8] |= 1 << uint(pos%8)
	b.count++
	return true
}

// Count returns the number of marked indices.
func (b *Bitmap) Count() int {
	if b == nil {
		return 0
	}
	return b.count
}

// Full reports whether every index has been marked.
func (b *Bitmap) Full() bool {
	return b != nil && b.count == b.bits
}

// Missing returns up to limit unmarked indices in ascending order.
func (b *Bitmap) Missing(limit int) []int64 {
	if b == nil || limit <= 0 {
		return nil
	}
	var out []int64
	for i := int64(1); i <= int64(b.bits) && len(out) < limit; i++ {
		if !b.Has(i) {
			out = append(out, i)
		}
	}
	return out
}
