//go:build !profile

package prof

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStub(t *testing.T) {
	assert.False(t, Enabled)

	s, err := Start(Options{CPU: "/nonexistent/cpu.prof"})
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
	assert.NoError(t, Write(ProfileHeap, "/nonexistent/heap.prof"))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptions_Any(t *testing.T) {
	assert.False(t, Options{}.Any())
	assert.True(t, Options{Heap: "heap.prof"}.Any())
	assert.Equal(t, "mutex", ProfileMutex.String())
}
