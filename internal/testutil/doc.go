// Package testutil contains fakes and helpers shared by the package tests:
// recording senders and deliverers, scriptable backends and identifier
// shortcuts. It is not intended for production usage.
package testutil
