// Package grpcweb implements the gRPC-Web wire adaptation this proxy
// performs over plain gRPC: classifying requests by Content-Type and
// encoding trailing gRPC status as an in-band terminal frame.
package grpcweb

import (
	"bytes"
	"encoding/binary"
	"net/http"
	"strings"
)

// trailerFrameFlag is the first byte of a gRPC-Web terminal frame,
// distinguishing it from an ordinary (uncompressed, flag 0x00) data frame.
const trailerFrameFlag = 0x80

// EncodeTrailerFrame produces the gRPC-Web terminal frame for trailers:
// 0x80, a big-endian u32 length, then the trailer block serialized as
// "name: value\r\n" lines (header names lowercased, values verbatim).
// Multi-value headers are emitted as repeated lines.
func EncodeTrailerFrame(trailers http.Header) []byte {
	var body bytes.Buffer
	for name, values := range trailers {
		lower := strings.ToLower(name)
		for _, v := range values {
			body.WriteString(lower)
			body.WriteString(": ")
			body.WriteString(v)
			body.WriteString("\r\n")
		}
	}

	frame := make([]byte, 5+body.Len())
	frame[0] = trailerFrameFlag
	binary.BigEndian.PutUint32(frame[1:5], uint32(body.Len()))
	copy(frame[5:], body.Bytes())
	return frame
}

// DecodeTrailerFrame parses a gRPC-Web terminal frame back into a trailer
// block. It returns false if data is not a well-formed terminal frame.
func DecodeTrailerFrame(data []byte) (http.Header, bool) {
	if len(data) < 5 || data[0] != trailerFrameFlag {
		return nil, false
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if uint64(len(data)-5) != uint64(length) {
		return nil, false
	}

	trailers := make(http.Header)
	for _, line := range strings.Split(strings.TrimRight(string(data[5:]), "\r\n"), "\r\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, false
		}
		trailers.Add(name, value)
	}
	return trailers, true
}

// IsTrailerFrame reports whether the first byte of data marks it as a
// gRPC-Web terminal frame rather than an ordinary data frame.
func IsTrailerFrame(data []byte) bool {
	return len(data) > 0 && data[0] == trailerFrameFlag
}
