package httpbody

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

func TestHttpBodyReaderFixedLength(t *testing.T) {
	t.Parallel()

	src := bufio.NewReader(strings.NewReader("test bodyXXX"))
	r := NewHttpBodyReader(src, FixedLength(9), 0)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "test body" {
		t.Fatalf("got %q, want %q", got, "test body")
	}

	rest, _ := io.ReadAll(src)
	if string(rest) != "XXX" {
		t.Fatalf("remaining = %q, want %q", rest, "XXX")
	}
}

func TestHttpBodyReaderChunkedVerbatim(t *testing.T) {
	t.Parallel()

	src := bufio.NewReader(strings.NewReader("5\r\ntest\n\r\n4\r\nbody\r\n0\r\n\r\nXXX"))
	r := NewHttpBodyReader(src, Chunked(), 0)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := "5\r\ntest\n\r\n4\r\nbody\r\n0\r\n\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	rest, _ := io.ReadAll(src)
	if string(rest) != "XXX" {
		t.Fatalf("remaining = %q, want %q", rest, "XXX")
	}
}

func TestHttpBodyReaderLineTooLong(t *testing.T) {
	t.Parallel()

	src := bufio.NewReader(strings.NewReader("00000000005\r\ntest\n\r\n0\r\n\r\n"))
	r := NewHttpBodyReader(src, Chunked(), 4)

	_, err := io.ReadAll(r)
	if err != ErrLineTooLong {
		t.Fatalf("err = %v, want ErrLineTooLong", err)
	}
}

func TestHttpBodyDecodeReaderChunked(t *testing.T) {
	t.Parallel()

	src := bufio.NewReader(strings.NewReader("5\r\ntest\n\r\n4\r\nbody\r\n0\r\n\r\nXXX"))
	r := NewHttpBodyDecodeReader(src, Chunked(), 0)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "test\nbody" {
		t.Fatalf("got %q, want %q", got, "test\nbody")
	}

	// Read stops after the zero-size chunk line; the (empty) trailer
	// block's closing CRLF is left on the source for Trailer to consume.
	rest, _ := io.ReadAll(src)
	if string(rest) != "\r\nXXX" {
		t.Fatalf("remaining = %q, want %q", rest, "\r\nXXX")
	}
}

func TestHttpBodyDecodeReaderTrailer(t *testing.T) {
	t.Parallel()

	src := bufio.NewReader(strings.NewReader("5\r\ntest\n\r\n4\r\nbody\r\n0\r\nA: B\r\n\r\nXXX"))
	r := NewHttpBodyDecodeReader(src, Chunked(), 0)

	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := r.Trailer(0); err != nil {
		t.Fatalf("Trailer: %v", err)
	}

	rest, _ := io.ReadAll(src)
	if string(rest) != "XXX" {
		t.Fatalf("remaining = %q, want %q", rest, "XXX")
	}
}

func TestHttpBodyDecodeReaderFixedLength(t *testing.T) {
	t.Parallel()

	src := bufio.NewReader(strings.NewReader("test bodyXXX"))
	r := NewHttpBodyDecodeReader(src, FixedLength(9), 0)

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "test body" {
		t.Fatalf("got %q, want %q", got, "test body")
	}
}
