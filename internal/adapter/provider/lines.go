package provider

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"slices"
)

// maxLineSize bounds one protocol line. Longer lines end the scan with an error.
const maxLineSize = 1 << 20

// scanLines yields each line of r without its terminator. Yielded slices are copies.
func scanLines(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			if !yield(slices.Clone(scanner.Bytes()), nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, transportError(err))
		}
	}
}

// readFragments yields body bytes as they arrive, in reads of at most 4 KiB.
func readFragments(r io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		buf := make([]byte, 4096)
		for {
			n, err := r.Read(buf)
			if n > 0 && !yield(bytes.Clone(buf[:n]), nil) {
				return
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, transportError(err))
				return
			}
		}
	}
}

// sseData extracts the payload of a "data:" line. Comments and other fields report false.
func sseData(line []byte) ([]byte, bool) {
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil, false
	}
	return bytes.TrimPrefix(data, []byte(" ")), true
}
