// Package testutil contains helpers used across tests to reduce boilerplate
// when building conversation histories and asserting what was written to a
// client sink. They are not intended for production usage.
package testutil
