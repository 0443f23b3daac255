package streamcopy

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestCopyBasic(t *testing.T) {
	t.Parallel()

	src := strings.NewReader("hello world")
	dst := &bytes.Buffer{}

	c := New(dst, src, Config{BufferSize: 4})
	n, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != int64(len("hello world")) {
		t.Fatalf("got %d bytes, want %d", n, len("hello world"))
	}
	if dst.String() != "hello world" {
		t.Fatalf("got %q", dst.String())
	}
	if !c.Finished() {
		t.Fatal("expected Finished after EOF")
	}
	if c.TotalWritten() != n {
		t.Fatalf("TotalWritten() = %d, want %d", c.TotalWritten(), n)
	}
}

type errReader struct{ err error }

func (r errReader) Read(p []byte) (int, error) { return 0, r.err }

func TestCopyReadFailed(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	c := New(&bytes.Buffer{}, errReader{err: wantErr}, Config{})
	_, err := c.Run()

	var rf *ErrReadFailed
	if !errors.As(err, &rf) {
		t.Fatalf("got %v, want *ErrReadFailed", err)
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped %v in %v", wantErr, err)
	}
}

type errWriter struct{ err error }

func (w errWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestCopyWriteFailed(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("disk full")
	c := New(errWriter{err: wantErr}, strings.NewReader("x"), Config{})
	_, err := c.Run()

	var wf *ErrWriteFailed
	if !errors.As(err, &wf) {
		t.Fatalf("got %v, want *ErrWriteFailed", err)
	}
}

func TestCopyActivityTracking(t *testing.T) {
	t.Parallel()

	src := strings.NewReader("data")
	dst := &bytes.Buffer{}
	c := New(dst, src, Config{})

	if c.IsActive() {
		t.Fatal("should not be active before any Run")
	}
	if _, err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !c.IsActive() {
		t.Fatal("should be active after copying bytes")
	}
	c.ResetActive()
	if c.IsActive() {
		t.Fatal("ResetActive should clear activity")
	}
}

// writerToSource exercises the io.WriterTo fast path.
type writerToSource struct{ data string }

func (s writerToSource) Read(p []byte) (int, error) { panic("should not be called") }
func (s writerToSource) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte(s.data))
	return int64(n), err
}

// chunkedSource yields fixed-size chunks across several Read calls
// instead of returning everything at once, so a small YieldSize is
// crossed more than once in a single Run.
type chunkedSource struct {
	chunks [][]byte
	i      int
}

func (s *chunkedSource) Read(p []byte) (int, error) {
	if s.i >= len(s.chunks) {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[s.i])
	s.i++
	return n, nil
}

func TestCopyYieldBoundaryPreservesData(t *testing.T) {
	t.Parallel()

	src := &chunkedSource{chunks: [][]byte{
		bytes.Repeat([]byte("a"), 10),
		bytes.Repeat([]byte("b"), 10),
		bytes.Repeat([]byte("c"), 10),
	}}
	dst := &bytes.Buffer{}

	// dst is wrapped so it no longer exposes bytes.Buffer's ReadFrom,
	// keeping Run on the manual loop where YieldSize applies.
	c := New(struct{ io.Writer }{dst}, src, Config{BufferSize: 16, YieldSize: 8})
	n, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 30 {
		t.Fatalf("got %d bytes, want 30", n)
	}
	want := strings.Repeat("a", 10) + strings.Repeat("b", 10) + strings.Repeat("c", 10)
	if dst.String() != want {
		t.Fatalf("got %q, want %q", dst.String(), want)
	}
}

func TestCopyWriterToFastPath(t *testing.T) {
	t.Parallel()

	dst := &bytes.Buffer{}
	c := New(dst, writerToSource{data: "fast path"}, Config{})
	n, err := c.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dst.String() != "fast path" {
		t.Fatalf("got %q", dst.String())
	}
	if n != int64(len("fast path")) {
		t.Fatalf("got %d", n)
	}
}
