// Package timesync converts producer timestamps to wall-clock time and
// measures intervals on the monotonic clock.
//
// Block records carry the kernel's monotonic clock (nanoseconds since boot,
// the same clock bpf_ktime_get_ns reads). The Converter pins the offset
// between that clock and the wall clock once at startup. Stopwatch times
// stats intervals without being affected by wall-clock steps.
package timesync
