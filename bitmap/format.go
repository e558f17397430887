package bitmap

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// infinitePrefix marks the infinite tail in hex and taskset strings.
const infinitePrefix = "0xf...f"

// chunks32 splits the explicit part of b into 32-bit chunks, chunk 0 first.
// Chunks covering the start of an infinite tail include the tail bits.
func (b *Bitmap) chunks32() []uint32 {
	n := int((b.extent() + 31) / 32)
	out := make([]uint32, n)
	it := b.finite().Iterator()
	for it.HasNext() {
		v := it.Next()
		out[v/32] |= 1 << (v % 32)
	}
	if b.isInf() {
		for i := int(b.limit); i < n*32; i++ {
			out[i/32] |= 1 << uint(i%32)
		}
	}
	return out
}

// String returns the comma separated 32-bit hex form, highest chunk first,
// for example "0xffffffff,0x00000006,0x00000002". Zero chunks between
// non-zero ones are left empty, an empty bitmap prints as "0x0" and an
// infinite tail is written as a leading "0xf...f".
func (b *Bitmap) String() string {
	chunks := b.chunks32()
	var sb strings.Builder
	needComma := false
	if b.isInf() {
		for len(chunks) > 0 && chunks[len(chunks)-1] == 0xffffffff {
			chunks = chunks[:len(chunks)-1]
		}
		sb.WriteString(infinitePrefix)
		needComma = true
	} else {
		for len(chunks) > 0 && chunks[len(chunks)-1] == 0 {
			chunks = chunks[:len(chunks)-1]
		}
		if len(chunks) == 0 {
			return "0x0"
		}
	}
	for i := len(chunks) - 1; i >= 0; i-- {
		if needComma {
			sb.WriteByte(',')
		}
		switch c := chunks[i]; {
		case c != 0:
			fmt.Fprintf(&sb, "0x%08x", c)
		case i == 0:
			sb.WriteString("0x0")
		}
		needComma = true
	}
	return sb.String()
}

// ListString returns the range list form, for example "1,33-34,64-95". An
// infinite tail is written as an open range such as "4-". An empty bitmap
// prints as the empty string.
func (b *Bitmap) ListString() string {
	var parts []string
	start, prev := -1, -1
	flush := func() {
		switch {
		case start < 0:
		case start == prev:
			parts = append(parts, strconv.Itoa(start))
		default:
			parts = append(parts, strconv.Itoa(start)+"-"+strconv.Itoa(prev))
		}
	}
	it := b.finite().Iterator()
	for it.HasNext() {
		v := int(it.Next())
		if start >= 0 && v == prev+1 {
			prev = v
			continue
		}
		flush()
		start, prev = v, v
	}
	flush()
	if b.isInf() {
		parts = append(parts, strconv.Itoa(int(b.limit))+"-")
	}
	return strings.Join(parts, ",")
}

// TasksetString returns the single hex number form used by taskset(1), for
// example "0xffffffff0000000600000002".
func (b *Bitmap) TasksetString() string {
	chunks := b.chunks32()
	var sb strings.Builder
	if b.isInf() {
		for len(chunks) > 0 && chunks[len(chunks)-1] == 0xffffffff {
			chunks = chunks[:len(chunks)-1]
		}
		sb.WriteString(infinitePrefix)
		for i := len(chunks) - 1; i >= 0; i-- {
			fmt.Fprintf(&sb, "%08x", chunks[i])
		}
		return sb.String()
	}
	for len(chunks) > 0 && chunks[len(chunks)-1] == 0 {
		chunks = chunks[:len(chunks)-1]
	}
	if len(chunks) == 0 {
		return "0x0"
	}
	fmt.Fprintf(&sb, "0x%x", chunks[len(chunks)-1])
	for i := len(chunks) - 2; i >= 0; i-- {
		fmt.Fprintf(&sb, "%08x", chunks[i])
	}
	return sb.String()
}

// Parse reads the hex chunk form produced by String.
func Parse(s string) (*Bitmap, error) {
	str := strings.TrimSpace(s)
	if str == "" {
		return nil, &ParseError{Input: s, Fragment: s}
	}
	tokens := strings.Split(str, ",")
	infinite := false
	if tokens[0] == infinitePrefix {
		infinite = true
		tokens = tokens[1:]
	}
	n := len(tokens)
	if n*32 > MaxIndex+1 {
		return nil, &ParseError{Input: s, Fragment: str}
	}
	b := New()
	for k, tok := range tokens {
		if tok == "" {
			continue
		}
		v, ok := parseHexChunk(tok, 8)
		if !ok {
			return nil, &ParseError{Input: s, Fragment: tok}
		}
		b.setChunk(n-1-k, uint32(v))
	}
	if infinite {
		b.infinite = true
		b.limit = uint32(n * 32)
		b.normalize()
	}
	return b, nil
}

// ParseList reads the range list form produced by ListString.
func ParseList(s string) (*Bitmap, error) {
	str := strings.TrimSpace(s)
	b := New()
	if str == "" {
		return b, nil
	}
	for _, tok := range strings.Split(str, ",") {
		loText, hiText, isRange := strings.Cut(tok, "-")
		lo, ok := parseIndex(loText)
		if !ok {
			return nil, &ParseError{Input: s, Fragment: tok}
		}
		switch {
		case !isRange:
			_ = b.Set(lo)
		case hiText == "":
			_ = b.SetRange(lo, Unbounded)
		default:
			hi, ok := parseIndex(hiText)
			if !ok || hi < lo {
				return nil, &ParseError{Input: s, Fragment: tok}
			}
			_ = b.SetRange(lo, hi+1)
		}
	}
	return b, nil
}

// ParseTaskset reads the single hex number form produced by TasksetString.
func ParseTaskset(s string) (*Bitmap, error) {
	str := strings.TrimSpace(s)
	h := str
	infinite := false
	if strings.HasPrefix(h, infinitePrefix) {
		infinite = true
		h = h[len(infinitePrefix):]
	} else {
		h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
		if h == "" {
			return nil, &ParseError{Input: s, Fragment: s}
		}
	}
	if len(h)*4 > MaxIndex+1 {
		return nil, &ParseError{Input: s, Fragment: str}
	}
	b := New()
	chunk := 0
	for end := len(h); end > 0; end -= 8 {
		start := max(end-8, 0)
		v, ok := parseHexChunk(h[start:end], 8)
		if !ok {
			return nil, &ParseError{Input: s, Fragment: h[start:end]}
		}
		b.setChunk(chunk, uint32(v))
		chunk++
	}
	if infinite {
		b.infinite = true
		b.limit = uint32(len(h) * 4)
		b.normalize()
	}
	return b, nil
}

func (b *Bitmap) setChunk(i int, v uint32) {
	base := uint32(i) * 32
	rb := b.mut()
	for v != 0 {
		bit := uint32(bits.TrailingZeros32(v))
		rb.Add(base + bit)
		v &= v - 1
	}
}

func parseHexChunk(tok string, maxDigits int) (uint64, bool) {
	h := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	if h == "" || len(h) > maxDigits {
		return 0, false
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil || v > MaxIndex {
		return 0, false
	}
	return v, true
}

// MarshalText implements encoding.TextMarshaler using the hex chunk form.
func (b *Bitmap) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It accepts the hex chunk
// form.
func (b *Bitmap) UnmarshalText(text []byte) error {
	p, err := Parse(string(text))
	if err != nil {
		return err
	}
	b.CopyFrom(p)
	return nil
}
