// Package discovery defines how topology sources hand a raw object tree to
// hwtopo.
//
// A Backend turns a Config into a Result: a tree of Object values plus the
// distance matrices, memory attribute values and CPU kinds the source knows
// about. Objects are referenced across the Result by their global persistent
// index (GPIndex), so a Result can be serialized and restored without
// pointers.
//
// Backends that discover objects piecemeal (the Linux backend reads packages,
// cores, caches and NUMA nodes separately) use a Builder, which places each
// object by cpuset inclusion.
//
// Failures are reported as *Error values carrying a Kind, so callers can tell
// a malformed description from a missing file or a privilege problem:
//
//	var derr *discovery.Error
//	if errors.As(err, &derr) && derr.Kind == discovery.KindSyntax {
//	    ...
//	}
package discovery
