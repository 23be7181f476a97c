//go:build profile

package prof

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runpprof "runtime/pprof"
	"sync"

	"go.uber.org/multierr"
)

// Profiling errors.
var (
	// ErrActive indicates a session is already running.
	ErrActive = errors.New("profiling session already active")

	// ErrInvalidProfile indicates an unknown profile, or the CPU profile
	// where only snapshots are allowed.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Enabled reports whether profiling is compiled in.
const Enabled = true

var (
	mu     sync.Mutex
	active *Session
)

// Session is a running profiling session.
type Session struct {
	opts Options
	cpu  *os.File
	once sync.Once
	err  error
}

// Start begins a session. Only one session may run at a time.
func Start(opts Options) (*Session, error) {
	mu.Lock()
	defer mu.Unlock()

	if active != nil {
		return nil, ErrActive
	}

	s := &Session{opts: opts}
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := runpprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		s.cpu = f
	}
	if opts.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if opts.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}

	active = s
	return s, nil
}

// Stop ends the session and writes its snapshot profiles. Later calls
// return the first call's result.
func (s *Session) Stop() error {
	s.once.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		if s.cpu != nil {
			runpprof.StopCPUProfile()
			s.err = multierr.Append(s.err, s.cpu.Close())
		}
		snapshots := []struct {
			profile Profile
			path    string
		}{
			{ProfileHeap, s.opts.Heap},
			{ProfileGoroutine, s.opts.Goroutine},
			{ProfileBlock, s.opts.Block},
			{ProfileMutex, s.opts.Mutex},
		}
		for _, snap := range snapshots {
			if snap.path != "" {
				s.err = multierr.Append(s.err, Write(snap.profile, snap.path))
			}
		}
		if s.opts.Block != "" {
			runtime.SetBlockProfileRate(0)
		}
		if s.opts.Mutex != "" {
			runtime.SetMutexProfileFraction(0)
		}
		active = nil
	})
	return s.err
}

// Write writes a snapshot profile to path.
func Write(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s profile: %w", profile, err)
	}
	return multierr.Append(WriteTo(profile, f, 0), f.Close())
}

// WriteTo writes a snapshot profile to w. debug 0 writes the binary format
// read by go tool pprof; debug 1 writes text.
func WriteTo(profile Profile, w io.Writer, debug int) error {
	if profile == ProfileCPU {
		return fmt.Errorf("%s is not a snapshot: %w", profile, ErrInvalidProfile)
	}
	p := runpprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%q: %w", profile, ErrInvalidProfile)
	}
	return p.WriteTo(w, debug)
}

// Handler serves the pprof index and profiles. Mount it at /debug/pprof/.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
