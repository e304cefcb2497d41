// Package engine implements the quorum decision core: admission of signed
// operator responses, participation and content quorum evaluation, and the
// single-shot finalization of tasks. The engine keeps no mutable task state
// of its own; every evaluation re-reads the store and the operator
// directory, so it is safe to invoke concurrently for different tasks.
package engine
