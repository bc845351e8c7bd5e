package agentruntime

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/containerd/containerd/cio"
)

// stream names the two tagged output channels a pod's logging shim
// recognizes (§4.10).
type stream string

const (
	streamOut stream = "out"
	streamErr stream = "err"
)

// TaggedWriter prefixes every line written to it with
// "[timestamp][podId:out|err]" before forwarding it to dest, the
// logging shim §4.10 says the agent installs before user code runs.
// Partial writes are buffered until a newline completes a line.
type TaggedWriter struct {
	podID  string
	stream stream
	dest   io.Writer

	mu  sync.Mutex
	buf bytes.Buffer
}

// NewTaggedWriter creates a writer that tags every line it receives for
// podID's s stream and forwards it to dest.
func NewTaggedWriter(podID string, s stream, dest io.Writer) *TaggedWriter {
	return &TaggedWriter{podID: podID, stream: s, dest: dest}
}

func (w *TaggedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line: put it back for the next Write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

func (w *TaggedWriter) emit(line string) {
	fmt.Fprintf(w.dest, "[%s][%s:%s]%s", time.Now().Format(time.RFC3339Nano), w.podID, w.stream, line)
}

// Flush forces out any buffered partial line, adding the trailing
// newline the shim's tagging format expects. Call it once the pod's
// task has exited so a final unterminated line is not lost.
func (w *TaggedWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String() + "\n")
	w.buf.Reset()
}

// NewPodCIOCreator builds the cio.Creator StartPod wires a pod's task
// stdout/stderr through, tagging every line with podID.
func NewPodCIOCreator(podID string, dest io.Writer) (cio.Creator, *TaggedWriter, *TaggedWriter) {
	out := NewTaggedWriter(podID, streamOut, dest)
	errW := NewTaggedWriter(podID, streamErr, dest)
	creator := cio.NewCreator(cio.WithStreams(nil, out, errW))
	return creator, out, errW
}
