package nlog

// InfoDepth and ErrorDepth let a thin wrapper (e.g. a per-subsystem
// logger that prefixes every line with its port name) report the
// caller's caller instead of itself.
func InfoDepth(depth int, args ...any)  { std.logln(sevInfo, depth+1, args...) }
func ErrorDepth(depth int, args ...any) { std.logln(sevErr, depth+1, args...) }
