package bitmap

import (
	"iter"
	"math"
	"math/bits"

	"github.com/RoaringBitmap/roaring/v2"
)

// MaxIndex is the largest index that can be set individually.
const MaxIndex = math.MaxInt32 - 1

// maxWord is the highest 64-bit word index whose bits are all addressable.
const maxWord = (MaxIndex - 63) / 64

// Unbounded may be passed as the upper bound of SetRange and ClearRange to
// extend the range to infinity.
const Unbounded = -1

// maxRange is the exclusive upper bound of the roaring value space.
const maxRange = uint64(math.MaxUint32) + 1

// emptyBits backs read-only access through a nil or zero Bitmap.
var emptyBits = roaring.New()

// Bitmap is a set of non-negative integers that may have an infinite tail.
//
// The zero value is an empty bitmap ready to use. A nil *Bitmap reads as empty.
type Bitmap struct {
	bits     *roaring.Bitmap // finite part; never holds indices >= limit when infinite
	infinite bool            // every index >= limit is set
	limit    uint32          // start of the infinite tail, 0 when finite
}

// New returns an empty bitmap.
func New() *Bitmap {
	return &Bitmap{bits: roaring.New()}
}

// Full returns a bitmap with every index set.
func Full() *Bitmap {
	return &Bitmap{bits: roaring.New(), infinite: true}
}

// AllBut returns a bitmap with every index set except i.
func AllBut(i int) (*Bitmap, error) {
	b := Full()
	if err := b.Clear(i); err != nil {
		return nil, err
	}
	return b, nil
}

// FromSequence returns a bitmap with the given indices set.
func FromSequence(indexes ...int) (*Bitmap, error) {
	b := New()
	for _, i := range indexes {
		if err := b.Set(i); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// MustFromSequence is like FromSequence but panics on an invalid index.
// It is meant for literals in tests and static tables.
func MustFromSequence(indexes ...int) *Bitmap {
	b, err := FromSequence(indexes...)
	if err != nil {
		panic(err)
	}
	return b
}

// FromUint64 returns a bitmap whose first 64 indices are given by mask.
func FromUint64(mask uint64) *Bitmap {
	b, _ := FromIndexedWord(0, mask)
	return b
}

// FromIndexedWord returns a bitmap holding mask at 64-bit word index i, that is
// indices 64*i to 64*i+63.
func FromIndexedWord(i int, mask uint64) (*Bitmap, error) {
	if i < 0 || i > maxWord {
		return nil, invalidIndex(i)
	}
	b := New()
	b.setWord(i, mask)
	return b, nil
}

// FromWords returns a bitmap built from consecutive 64-bit words, word 0 first.
func FromWords(words ...uint64) (*Bitmap, error) {
	if len(words) > maxWord+1 {
		return nil, invalidIndex(len(words) * 64)
	}
	b := New()
	for i, w := range words {
		b.setWord(i, w)
	}
	return b, nil
}

func (b *Bitmap) setWord(i int, mask uint64) {
	base := uint32(i) * 64
	rb := b.mut()
	for mask != 0 {
		bit := uint32(bits.TrailingZeros64(mask))
		rb.Add(base + bit)
		mask &= mask - 1
	}
}

func checkIndex(i int) error {
	if i < 0 || i > MaxIndex {
		return invalidIndex(i)
	}
	return nil
}

func (b *Bitmap) finite() *roaring.Bitmap {
	if b == nil || b.bits == nil {
		return emptyBits
	}
	return b.bits
}

func (b *Bitmap) mut() *roaring.Bitmap {
	if b.bits == nil {
		b.bits = roaring.New()
	}
	return b.bits
}

func (b *Bitmap) isInf() bool {
	return b != nil && b.infinite
}

func (b *Bitmap) tail() uint32 {
	if !b.isInf() {
		return 0
	}
	return b.limit
}

// normalize pulls the tail limit down over any set bits directly below it.
func (b *Bitmap) normalize() {
	if !b.infinite {
		b.limit = 0
		return
	}
	if b.bits == nil {
		return
	}
	for b.limit > 0 && b.bits.Contains(b.limit-1) {
		b.bits.Remove(b.limit - 1)
		b.limit--
	}
}

// extent returns an index past which b is constant.
func (b *Bitmap) extent() uint64 {
	if b.isInf() {
		return uint64(b.limit)
	}
	rb := b.finite()
	if rb.IsEmpty() {
		return 0
	}
	return uint64(rb.Maximum()) + 1
}

// materialize returns the bits of b below n as a fresh roaring bitmap.
func (b *Bitmap) materialize(n uint64) *roaring.Bitmap {
	rb := b.finite().Clone()
	if b.isInf() && n > uint64(b.limit) {
		rb.AddRange(uint64(b.limit), n)
	}
	return rb
}

func combine(a, o *Bitmap, op func(x, y *roaring.Bitmap) *roaring.Bitmap, tail func(x, y bool) bool) *Bitmap {
	n := max(a.extent(), o.extent())
	res := &Bitmap{
		bits:     op(a.materialize(n), o.materialize(n)),
		infinite: tail(a.isInf(), o.isInf()),
	}
	if res.infinite {
		res.limit = uint32(n)
		res.bits.RemoveRange(n, maxRange)
	}
	res.normalize()
	return res
}

// Clone returns a deep copy of b.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{bits: b.finite().Clone(), infinite: b.isInf(), limit: b.tail()}
}

// CopyFrom replaces the contents of b with a deep copy of src.
func (b *Bitmap) CopyFrom(src *Bitmap) {
	b.bits = src.finite().Clone()
	b.infinite = src.isInf()
	b.limit = src.tail()
}

// Zero clears every index.
func (b *Bitmap) Zero() {
	b.mut().Clear()
	b.infinite = false
	b.limit = 0
}

// Fill sets every index.
func (b *Bitmap) Fill() {
	b.mut().Clear()
	b.infinite = true
	b.limit = 0
}

// Set adds index i.
func (b *Bitmap) Set(i int) error {
	if err := checkIndex(i); err != nil {
		return err
	}
	if b.infinite && uint32(i) >= b.limit {
		return nil
	}
	b.mut().Add(uint32(i))
	b.normalize()
	return nil
}

// Clear removes index i.
func (b *Bitmap) Clear(i int) error {
	if err := checkIndex(i); err != nil {
		return err
	}
	if b.infinite && uint32(i) >= b.limit {
		rb := b.mut()
		rb.AddRange(uint64(b.limit), uint64(i)+1)
		rb.Remove(uint32(i))
		b.limit = uint32(i) + 1
		return nil
	}
	b.mut().Remove(uint32(i))
	return nil
}

// SetRange adds every index in [lo, hi). Pass Unbounded as hi to set every
// index from lo upwards.
func (b *Bitmap) SetRange(lo, hi int) error {
	if err := checkIndex(lo); err != nil {
		return err
	}
	rb := b.mut()
	if hi == Unbounded {
		rb.RemoveRange(uint64(lo), maxRange)
		if !b.infinite || uint32(lo) < b.limit {
			b.limit = uint32(lo)
		}
		b.infinite = true
		b.normalize()
		return nil
	}
	if hi < 0 || hi > MaxIndex+1 {
		return invalidIndex(hi)
	}
	if hi <= lo {
		return nil
	}
	end := uint64(hi)
	if b.infinite && end > uint64(b.limit) {
		end = uint64(b.limit)
	}
	if uint64(lo) < end {
		rb.AddRange(uint64(lo), end)
	}
	b.normalize()
	return nil
}

// ClearRange removes every index in [lo, hi). Pass Unbounded as hi to clear
// every index from lo upwards.
func (b *Bitmap) ClearRange(lo, hi int) error {
	if err := checkIndex(lo); err != nil {
		return err
	}
	rb := b.mut()
	if hi == Unbounded {
		if b.infinite && uint32(lo) > b.limit {
			rb.AddRange(uint64(b.limit), uint64(lo))
		}
		rb.RemoveRange(uint64(lo), maxRange)
		b.infinite = false
		b.limit = 0
		return nil
	}
	if hi < 0 || hi > MaxIndex+1 {
		return invalidIndex(hi)
	}
	if hi <= lo {
		return nil
	}
	if b.infinite && uint64(hi) > uint64(b.limit) {
		rb.AddRange(uint64(b.limit), uint64(hi))
		b.limit = uint32(hi)
	}
	rb.RemoveRange(uint64(lo), uint64(hi))
	b.normalize()
	return nil
}

// KeepOnly clears every index except i, which is set.
func (b *Bitmap) KeepOnly(i int) error {
	if err := checkIndex(i); err != nil {
		return err
	}
	b.Zero()
	return b.Set(i)
}

// ClearOnly sets every index except i, which is cleared.
func (b *Bitmap) ClearOnly(i int) error {
	if err := checkIndex(i); err != nil {
		return err
	}
	b.Fill()
	return b.Clear(i)
}

// Singlify keeps only the lowest set index. An empty bitmap is left as is.
func (b *Bitmap) Singlify() {
	f := b.First()
	if f < 0 {
		return
	}
	b.Zero()
	_ = b.Set(f)
}

// Contains reports whether index i is set.
func (b *Bitmap) Contains(i int) bool {
	if i < 0 {
		return false
	}
	if i > MaxIndex {
		return b.isInf()
	}
	if b.isInf() && uint32(i) >= b.limit {
		return true
	}
	return b.finite().Contains(uint32(i))
}

// IsZero reports whether no index is set.
func (b *Bitmap) IsZero() bool {
	return !b.isInf() && b.finite().IsEmpty()
}

// IsFull reports whether every index is set.
func (b *Bitmap) IsFull() bool {
	return b.isInf() && b.limit == 0
}

// IsInfinite reports whether b has an infinite tail of set indices.
func (b *Bitmap) IsInfinite() bool {
	return b.isInf()
}

// First returns the lowest set index, or -1 if b is empty.
func (b *Bitmap) First() int {
	rb := b.finite()
	if !rb.IsEmpty() {
		return int(rb.Minimum())
	}
	if b.isInf() {
		return int(b.limit)
	}
	return -1
}

// Last returns the highest set index, or -1 if b is empty or infinite.
func (b *Bitmap) Last() int {
	if b.isInf() {
		return -1
	}
	rb := b.finite()
	if rb.IsEmpty() {
		return -1
	}
	return int(rb.Maximum())
}

// Weight returns the number of set indices, or -1 if b is infinite.
func (b *Bitmap) Weight() int {
	if b.isInf() {
		return -1
	}
	return int(b.finite().GetCardinality())
}

// Next returns the lowest set index greater than prev, or -1 if there is none.
// Next(-1) returns the first set index.
func (b *Bitmap) Next(prev int) int {
	from := max(prev+1, 0)
	if from > MaxIndex {
		return -1
	}
	it := b.finite().Iterator()
	it.AdvanceIfNeeded(uint32(from))
	if it.HasNext() {
		return int(it.Next())
	}
	if b.isInf() {
		return max(from, int(b.limit))
	}
	return -1
}

// NextUnset returns the lowest unset index greater than prev, or -1 if there
// is none.
func (b *Bitmap) NextUnset(prev int) int {
	x := max(prev+1, 0)
	it := b.finite().Iterator()
	it.AdvanceIfNeeded(uint32(min(x, MaxIndex)))
	for x <= MaxIndex {
		if b.isInf() && x >= int(b.limit) {
			return -1
		}
		if !it.HasNext() || int(it.PeekNext()) != x {
			return x
		}
		it.Next()
		x++
	}
	return -1
}

// All iterates set indices in ascending order. The sequence of an infinite
// bitmap only ends at MaxIndex, so callers must bound it themselves.
func (b *Bitmap) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		it := b.finite().Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
		if b.isInf() {
			for i := int(b.limit); i <= MaxIndex; i++ {
				if !yield(i) {
					return
				}
			}
		}
	}
}

// Unset iterates unset indices in ascending order. For a finite bitmap the
// sequence only ends at MaxIndex.
func (b *Bitmap) Unset() iter.Seq[int] {
	return func(yield func(int) bool) {
		end := MaxIndex + 1
		if b.isInf() {
			end = int(b.limit)
		}
		next := 0
		it := b.finite().Iterator()
		for it.HasNext() {
			v := int(it.Next())
			for ; next < v; next++ {
				if !yield(next) {
					return
				}
			}
			next = v + 1
		}
		for ; next < end; next++ {
			if !yield(next) {
				return
			}
		}
	}
}

// Union returns b ∪ o.
func (b *Bitmap) Union(o *Bitmap) *Bitmap {
	return combine(b, o, roaring.Or, func(x, y bool) bool { return x || y })
}

// Intersect returns b ∩ o.
func (b *Bitmap) Intersect(o *Bitmap) *Bitmap {
	return combine(b, o, roaring.And, func(x, y bool) bool { return x && y })
}

// AndNot returns b \ o.
func (b *Bitmap) AndNot(o *Bitmap) *Bitmap {
	return combine(b, o, roaring.AndNot, func(x, y bool) bool { return x && !y })
}

// Xor returns the symmetric difference of b and o.
func (b *Bitmap) Xor(o *Bitmap) *Bitmap {
	return combine(b, o, roaring.Xor, func(x, y bool) bool { return x != y })
}

// Complement returns the set of indices not in b.
func (b *Bitmap) Complement() *Bitmap {
	n := b.extent()
	rb := b.materialize(n)
	rb.Flip(0, n)
	res := &Bitmap{bits: rb, infinite: !b.isInf(), limit: uint32(n)}
	res.normalize()
	return res
}

// UnionWith adds every index of o to b.
func (b *Bitmap) UnionWith(o *Bitmap) {
	*b = *b.Union(o)
}

// IntersectWith removes from b every index not in o.
func (b *Bitmap) IntersectWith(o *Bitmap) {
	*b = *b.Intersect(o)
}

// Remove removes from b every index of o.
func (b *Bitmap) Remove(o *Bitmap) {
	*b = *b.AndNot(o)
}

// Intersects reports whether b and o share at least one index.
func (b *Bitmap) Intersects(o *Bitmap) bool {
	if b.isInf() && o.isInf() {
		return true
	}
	if !b.isInf() && !o.isInf() {
		return b.finite().Intersects(o.finite())
	}
	return !b.Intersect(o).IsZero()
}

// IsSubsetOf reports whether every index of b is also in o.
func (b *Bitmap) IsSubsetOf(o *Bitmap) bool {
	return b.AndNot(o).IsZero()
}

// Includes reports whether every index of o is also in b.
func (b *Bitmap) Includes(o *Bitmap) bool {
	return o.IsSubsetOf(b)
}

// Equal reports whether b and o hold the same indices.
func (b *Bitmap) Equal(o *Bitmap) bool {
	return b.isInf() == o.isInf() && b.tail() == o.tail() && b.finite().Equals(o.finite())
}

// Compare orders b and o lexicographically on their ascending sequences of
// set indices. The first differing position decides: the sequence with the
// lower index there is less, and a sequence that ends first is less.
func (b *Bitmap) Compare(o *Bitmap) int {
	pa, pb := -1, -1
	horizon := int(max(b.tail(), o.tail()))
	for {
		xa, xb := b.Next(pa), o.Next(pb)
		switch {
		case xa < 0 && xb < 0:
			return 0
		case xa < 0:
			return -1
		case xb < 0:
			return 1
		case xa < xb:
			return -1
		case xa > xb:
			return 1
		}
		if b.isInf() && o.isInf() && xa >= horizon {
			return 0
		}
		pa, pb = xa, xb
	}
}

// CompareFirst compares only the lowest set index of b and o. An empty
// bitmap is greater than any non-empty one.
func (b *Bitmap) CompareFirst(o *Bitmap) int {
	fa, fb := b.First(), o.First()
	switch {
	case fa == fb:
		return 0
	case fa < 0:
		return 1
	case fb < 0:
		return -1
	case fa < fb:
		return -1
	default:
		return 1
	}
}

// Word returns the 64-bit word holding indices 64*i to 64*i+63.
func (b *Bitmap) Word(i int) uint64 {
	if i < 0 || i > maxWord {
		return 0
	}
	var w uint64
	base := i * 64
	for bit := 0; bit < 64; bit++ {
		if b.Contains(base + bit) {
			w |= 1 << uint(bit)
		}
	}
	return w
}

// Uint64 returns the first 64-bit word.
func (b *Bitmap) Uint64() uint64 {
	return b.Word(0)
}

// Words returns the 64-bit words covering every explicitly stored index. For
// an infinite bitmap the words reach at least up to the start of the tail.
func (b *Bitmap) Words() []uint64 {
	n := int((b.extent() + 63) / 64)
	words := make([]uint64, n)
	for i := range words {
		words[i] = b.Word(i)
	}
	return words
}
