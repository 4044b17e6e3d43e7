package normalize

import (
	"bytes"
	"iter"

	"modelrelay/internal/domain"
)

// Event names understood on event streams. Other events are ignored.
const (
	eventOutput = "output"
	eventDone   = "done"
	eventError  = "error"
)

// events interprets one server-sent-event protocol line per raw element.
func (n *Normalizer) events(raw iter.Seq2[domain.RawOutput, error]) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		event := ""
		for out, err := range raw {
			if err != nil {
				yield(domain.ErrorChunk(upstreamError(err)))
				return
			}
			if out.Image != nil || out.Job != nil {
				yield(domain.ErrorChunk(violation(domain.ShapeEventStream, out)))
				return
			}

			line := bytes.TrimRight(out.Data, "\r\n")
			if v, ok := field(line, "event:"); ok {
				event = string(bytes.TrimSpace(v))
				if event == eventDone {
					yield(domain.DoneChunk())
					return
				}
				continue
			}
			data, ok := field(line, "data:")
			if !ok {
				continue
			}
			switch event {
			case eventOutput:
				text := string(data)
				if text == "" {
					text = "\n"
				}
				if !yield(domain.TextChunk(text)) {
					return
				}
			case eventError:
				yield(domain.ErrorChunk(domain.Errorf(domain.KindUpstreamIOError, "", "upstream error event: %s", data)))
				return
			}
		}
		yield(domain.DoneChunk())
	}
}

// field returns the value of an SSE field line. One leading space is stripped.
func field(line []byte, name string) ([]byte, bool) {
	v, ok := bytes.CutPrefix(line, []byte(name))
	if !ok {
		return nil, false
	}
	return bytes.TrimPrefix(v, []byte(" ")), true
}
