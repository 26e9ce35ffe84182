// Package state holds the in-memory gateway session record. Nothing in this
// package touches the filesystem: a session only lives as long as the process.
package state
