package statestore

import (
	"bytes"
	"io"
)

// fakeSnapshotSink is an in-memory raft.SnapshotSink for exercising
// FSM.Snapshot/Persist/Restore without a real Raft runtime.
type fakeSnapshotSink struct {
	buf bytes.Buffer
}

func (s *fakeSnapshotSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *fakeSnapshotSink) Close() error                { return nil }
func (s *fakeSnapshotSink) ID() string                  { return "fake-snapshot" }
func (s *fakeSnapshotSink) Cancel() error               { return nil }

func (s *fakeSnapshotSink) readCloser() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
