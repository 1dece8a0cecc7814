// Package iox holds the small close-and-discard helpers shared by the
// stage backends and the local broker.
package iox

import "io"

// DiscardClose closes c, dropping the error. For deferred cleanup of
// response bodies and readers whose close error carries no signal:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc wraps c's Close for APIs that take a plain func(), such as
// t.Cleanup or a backend closer list:
//
//	t.Cleanup(iox.CloseFunc(client))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr runs fn and drops its error. For error-returning cleanup
// that is not an io.Closer, like a deferred Stop or Flush:
//
//	defer iox.DiscardErr(w.Flush)
func DiscardErr(fn func() error) { _ = fn() }
