// Package scripting compiles and runs regulation scripts.
//
// Three backends are available. Starlark is the default and runs full scripts
// with host functions and load() of shared regulation scripts. CEL evaluates
// side effect free expressions. WebAssembly runs precompiled modules exporting
// a value function.
//
// The Host caches compiled functions by content hash, bounds every call by the
// timeout of its function kind and classifies failures as script errors while
// passing through classified errors raised by host functions.
package scripting
