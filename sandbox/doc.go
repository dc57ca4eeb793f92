// Package sandbox runs untrusted JavaScript transformation and condition
// snippets against a data payload inside an isolated, time-bounded goja
// interpreter.
//
// Every execution uses a fresh interpreter with no access to a module
// loader, the process, or the filesystem; references to host facilities
// fail as ordinary ReferenceErrors. Outcomes form a closed union
// (Success, CompileError, RuntimeError, Timeout, MissingReturn) so callers
// dispatch on the tag instead of probing error shapes.
package sandbox
