package domain

import (
	"encoding/json"
	"fmt"
)

// ChunkKind discriminates the Chunk union.
type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkImage ChunkKind = "image"
	ChunkDone  ChunkKind = "done"
	ChunkError ChunkKind = "error"
)

// Image is a generated image reference.
type Image struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
}

// Chunk is one element of a normalized output sequence. A sequence ends in exactly
// one Done or Error chunk.
type Chunk struct {
	Kind  ChunkKind
	Text  string
	Image *Image
	Err   *Error

	// Adapter and Model identify the serving attempt. They are stamped by the
	// orchestrator and are not part of the wire form.
	Adapter string
	Model   string
}

func TextChunk(s string) Chunk    { return Chunk{Kind: ChunkText, Text: s} }
func ImageChunk(img Image) Chunk  { return Chunk{Kind: ChunkImage, Image: &img} }
func DoneChunk() Chunk            { return Chunk{Kind: ChunkDone} }
func ErrorChunk(err *Error) Chunk { return Chunk{Kind: ChunkError, Err: err} }

// Terminal reports whether c ends a sequence.
func (c Chunk) Terminal() bool { return c.Kind == ChunkDone || c.Kind == ChunkError }

type chunkErrorJSON struct {
	Kind    ErrorKind `json:"kind"`
	Adapter string    `json:"adapter,omitempty"`
	Message string    `json:"message"`
}

type chunkJSON struct {
	Type  ChunkKind       `json:"type"`
	Text  string          `json:"text,omitempty"`
	Image *Image          `json:"image,omitempty"`
	Error *chunkErrorJSON `json:"error,omitempty"`
}

// MarshalJSON renders the wire form used by streaming transports.
func (c Chunk) MarshalJSON() ([]byte, error) {
	out := chunkJSON{Type: c.Kind}
	switch c.Kind {
	case ChunkText:
		out.Text = c.Text
	case ChunkImage:
		out.Image = c.Image
	case ChunkError:
		if c.Err != nil {
			out.Error = &chunkErrorJSON{Kind: c.Err.Kind, Adapter: c.Err.Adapter, Message: c.Err.Message}
		}
	case ChunkDone:
	default:
		return nil, fmt.Errorf("marshal chunk: unknown kind %q", c.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire form.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var in chunkJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = Chunk{Kind: in.Type, Text: in.Text, Image: in.Image}
	if in.Error != nil {
		c.Err = &Error{Kind: in.Error.Kind, Adapter: in.Error.Adapter, Message: in.Error.Message}
	}
	return nil
}

// Result is the aggregate of a completed sequence.
type Result struct {
	Text    string `json:"text"`
	Image   *Image `json:"image,omitempty"`
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
}
