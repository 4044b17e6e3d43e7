package normalize

import (
	"iter"
	"unicode/utf8"

	"modelrelay/internal/domain"
)

func (n *Normalizer) text(raw iter.Seq2[domain.RawOutput, error]) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		var carry []byte
		for out, err := range raw {
			if err != nil {
				yield(domain.ErrorChunk(upstreamError(err)))
				return
			}
			if out.Image != nil || out.Job != nil {
				yield(domain.ErrorChunk(violation(domain.ShapeText, out)))
				return
			}
			if len(out.Data) == 0 {
				continue
			}

			buf := append(carry, out.Data...)
			complete, tail := splitIncomplete(buf)
			carry = tail
			if len(complete) == 0 {
				continue
			}
			if !utf8.Valid(complete) {
				n.logger.Debug("skipping undecodable fragment", "bytes", len(complete))
				continue
			}
			if !yield(domain.TextChunk(string(complete))) {
				return
			}
		}
		if len(carry) > 0 {
			n.logger.Debug("dropping truncated utf-8 tail", "bytes", len(carry))
		}
		yield(domain.DoneChunk())
	}
}

// splitIncomplete splits b before a trailing rune that is cut short, so the tail
// can be completed by the next fragment.
func splitIncomplete(b []byte) (complete, tail []byte) {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i], b[i:]
		}
		break
	}
	return b, nil
}
