package sales

import (
	"errors"
	"io"
)

// DefaultChunkSize is the payload size used when framing a reader into chunks.
const DefaultChunkSize = 8192

// Chunk is one unit of an uploaded byte stream.
// Only the first chunk of a stream carries Filename and AuthToken.
type Chunk struct {
	Filename  string
	AuthToken string
	Data      []byte
}

// ChunkStream yields the chunks of one upload in order.
// Recv returns io.EOF after the last chunk.
type ChunkStream interface {
	Recv() (Chunk, error)
}

// ReaderStream frames an io.Reader into fixed-size chunks.
type ReaderStream struct {
	r         io.Reader
	size      int
	filename  string
	authToken string
	sent      bool
	done      bool
}

// NewReaderStream creates a ChunkStream over r. Filename and token are
// attached to the first chunk only. A non-positive size uses DefaultChunkSize.
func NewReaderStream(r io.Reader, size int, filename, authToken string) *ReaderStream {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ReaderStream{
		r:         r,
		size:      size,
		filename:  filename,
		authToken: authToken,
	}
}

// Recv reads the next chunk. The first call always returns a chunk, even for
// an empty reader, so that metadata reaches the consumer.
func (s *ReaderStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	buf := make([]byte, s.size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case err != nil:
		return Chunk{}, err
	}

	if n == 0 && s.sent {
		return Chunk{}, io.EOF
	}

	chunk := Chunk{Data: buf[:n]}
	if !s.sent {
		chunk.Filename = s.filename
		chunk.AuthToken = s.authToken
		s.sent = true
	}
	return chunk, nil
}

// SliceStream replays chunks that were already received.
type SliceStream struct {
	chunks []Chunk
	pos    int
}

// NewSliceStream creates a ChunkStream over chunks.
func NewSliceStream(chunks ...Chunk) *SliceStream {
	return &SliceStream{chunks: chunks}
}

// Recv returns the next stored chunk.
func (s *SliceStream) Recv() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// chunkReader adapts a ChunkStream to io.Reader so that rows may span chunks.
type chunkReader struct {
	stream ChunkStream
	buf    []byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, err := r.stream.Recv()
		if err != nil {
			r.err = err
			continue
		}
		r.buf = chunk.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
