// Package httpbody re-encodes and decodes HTTP/1 message bodies for the
// ICAP adaptation path: a streaming chunked-transfer re-encoder plus a
// pair of bounded body decoders, all keyed off a small tagged body type.
package httpbody

import "fmt"

// Kind tags which of the three HTTP/1 body shapes a BodyType describes.
type Kind int

const (
	KindFixedLength Kind = iota
	KindReadUntilEnd
	KindChunked
)

func (k Kind) String() string {
	switch k {
	case KindFixedLength:
		return "fixed-length"
	case KindReadUntilEnd:
		return "read-until-end"
	case KindChunked:
		return "chunked"
	default:
		return fmt.Sprintf("httpbody.Kind(%d)", int(k))
	}
}

// BodyType is the tagged variant driving both ChunkedFramingWriter and
// the two body readers: a declared length, an unbounded read-to-EOF
// body, or an already chunk-framed body.
type BodyType struct {
	Kind   Kind
	Length uint64
}

// FixedLength describes a body of exactly n bytes, framed by
// Content-Length rather than chunked transfer-encoding.
func FixedLength(n uint64) BodyType { return BodyType{Kind: KindFixedLength, Length: n} }

// ReadUntilEnd describes a body with no declared length, ending only
// when the source returns io.EOF (HTTP/1.0-style close-delimited body).
func ReadUntilEnd() BodyType { return BodyType{Kind: KindReadUntilEnd} }

// Chunked describes a body that arrives already framed as HTTP/1
// chunked transfer-encoding.
func Chunked() BodyType { return BodyType{Kind: KindChunked} }
