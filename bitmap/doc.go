// Package bitmap provides the set type used for CPU sets and NUMA node sets.
//
// A Bitmap is an ordered set of non-negative integers. Unlike a plain bitset it
// may be infinite: every index at or above some limit is set. Infinite bitmaps
// come from Full, Complement, AllBut and the "0xf...f" / "N-" textual forms.
//
// # Storage
//
// The finite part is held in a Roaring bitmap (github.com/RoaringBitmap/roaring/v2).
// An infinite bitmap additionally records the first index of its all-ones tail.
// The representation is normalized so that two equal sets always compare Equal:
//
//	┌──────────────────────────────┬──────────────────────────────┐
//	│ roaring: finite bits < limit │ tail: every index >= limit   │
//	└──────────────────────────────┴──────────────────────────────┘
//
// # Textual forms
//
// Three encodings are supported and are convertible into each other:
//
//	String()        "0xffffffff,0x00000006,0x00000002"   32-bit hex chunks
//	ListString()    "1,33-34,64-95"                      ranges
//	TasksetString() "0xffffffff0000000600000002"         one hex number
//
// Parse, ParseList and ParseTaskset read them back. Malformed input fails with
// a *ParseError naming the offending fragment.
//
// # Ordering
//
// Compare orders bitmaps lexicographically on their ascending sequences of set
// indices, so {1} < {1,2,3} and {0,1,2} < {1}. CompareFirst only looks at the
// lowest set index.
//
// # Concurrency
//
// A Bitmap is a value type guarded by nothing. Concurrent reads are safe;
// mutation requires external synchronization. Set algebra (Union, Intersect,
// AndNot, Xor, Complement) never modifies its operands.
package bitmap
