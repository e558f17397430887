// Package binding defines how CPU and memory binding requests reach the
// operating system.
//
// A Backend receives already-resolved sets: cpusets for CPU binding and
// nodesets for memory binding. Translating objects or cpusets into nodesets
// is the caller's job. Every backend reports a Support matrix so callers can
// check an operation before attempting it.
//
// Three backends are provided:
//
//   - Native returns the platform backend (Linux uses sched_setaffinity,
//     set_mempolicy and mbind through golang.org/x/sys/unix).
//   - NewEmulated keeps binding state in memory. It backs tests and
//     topologies that do not describe the running machine.
//   - Unsupported rejects every request.
package binding
