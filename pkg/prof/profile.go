package prof

// Profile names a pprof profile.
type Profile string

// Profiles.
const (
	ProfileCPU       Profile = "cpu"
	ProfileHeap      Profile = "heap"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// String returns the profile name.
func (p Profile) String() string {
	return string(p)
}

// Options selects the profiles of a session. Empty paths are skipped.
type Options struct {
	CPU       string // CPU profile, sampled for the whole session
	Heap      string // Heap snapshot at Stop
	Goroutine string // Goroutine snapshot at Stop
	Block     string // Blocking profile at Stop
	Mutex     string // Mutex contention profile at Stop
}

// Any reports whether o requests any profile.
func (o Options) Any() bool {
	return o != Options{}
}
