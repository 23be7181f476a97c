//go:build !profile

package prof

import (
	"io"
	"net/http"
)

// Profiling errors. Stubs never return them.
var (
	ErrActive         error
	ErrInvalidProfile error
)

// Enabled reports whether profiling is compiled in.
const Enabled = false

// Session is a no-op session.
type Session struct{}

// Start returns a no-op session.
func Start(Options) (*Session, error) {
	return &Session{}, nil
}

// Stop does nothing.
func (*Session) Stop() error {
	return nil
}

// Write does nothing.
func Write(Profile, string) error {
	return nil
}

// WriteTo does nothing.
func WriteTo(Profile, io.Writer, int) error {
	return nil
}

// Handler serves 404 for every request.
func Handler() http.Handler {
	return http.NotFoundHandler()
}
