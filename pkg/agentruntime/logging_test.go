package agentruntime

import (
	"bytes"
	"strings"
	"testing"
)

func TestTaggedWriterEmitsCompleteLines(t *testing.T) {
	var dest bytes.Buffer
	w := NewTaggedWriter("pod-1", streamOut, &dest)

	if _, err := w.Write([]byte("hello\nworld\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := dest.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out)
	}
	for i, want := range []string{"hello", "world"} {
		if !strings.Contains(lines[i], "[pod-1:out]") {
			t.Errorf("line %d missing tag: %q", i, lines[i])
		}
		if !strings.HasSuffix(lines[i], want) {
			t.Errorf("line %d = %q, want suffix %q", i, lines[i], want)
		}
	}
}

func TestTaggedWriterBuffersPartialLines(t *testing.T) {
	var dest bytes.Buffer
	w := NewTaggedWriter("pod-2", streamErr, &dest)

	if _, err := w.Write([]byte("partial")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if dest.Len() != 0 {
		t.Fatalf("dest got data before newline: %q", dest.String())
	}

	if _, err := w.Write([]byte(" line\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(dest.String(), "partial line") {
		t.Errorf("dest = %q, want it to contain the completed line", dest.String())
	}
	if !strings.Contains(dest.String(), "[pod-2:err]") {
		t.Errorf("dest = %q, missing err stream tag", dest.String())
	}
}

func TestTaggedWriterFlushEmitsTrailingPartialLine(t *testing.T) {
	var dest bytes.Buffer
	w := NewTaggedWriter("pod-3", streamOut, &dest)

	if _, err := w.Write([]byte("no newline yet")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if dest.Len() != 0 {
		t.Fatalf("dest got data before Flush: %q", dest.String())
	}

	w.Flush()
	if !strings.Contains(dest.String(), "no newline yet") {
		t.Errorf("dest after Flush() = %q, want the trailing line", dest.String())
	}

	// Flush again with nothing buffered must not emit a second time.
	before := dest.String()
	w.Flush()
	if dest.String() != before {
		t.Errorf("second Flush() changed output: %q -> %q", before, dest.String())
	}
}

func TestTaggedWriterHandlesMultipleWritesAcrossLineBoundary(t *testing.T) {
	var dest bytes.Buffer
	w := NewTaggedWriter("pod-4", streamOut, &dest)

	w.Write([]byte("ab"))
	w.Write([]byte("c\nd"))
	w.Write([]byte("ef\n"))

	out := dest.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out)
	}
	if !strings.HasSuffix(lines[0], "abc") {
		t.Errorf("first line = %q, want suffix abc", lines[0])
	}
	if !strings.HasSuffix(lines[1], "def") {
		t.Errorf("second line = %q, want suffix def", lines[1])
	}
}
