// Package prof captures runtime profiles of a streaming session.
//
// It is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/bladestream
//
// Without the tag every function is a no-op and [Handler] serves 404, so
// callers keep their profiling hooks in release builds at no cost.
//
// A [Session] covers one run: CPU samples stream to a file from [Start]
// until [Session.Stop], which then writes any requested snapshot profiles.
// Block and mutex sampling are enabled only while a session that requests
// their snapshots is running.
//
//	s, err := prof.Start(prof.Options{CPU: "cpu.prof", Mutex: "mutex.prof"})
//	if err != nil {
//		return err
//	}
//	defer s.Stop()
//
// [Handler] exposes the same profiles over HTTP for long-running streams.
package prof
