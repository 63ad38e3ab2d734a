// SPDX-License-Identifier: MIT

package source

import (
	"fmt"
	"io"
	"os"

	"github.com/kestrelaudio/kestrel-go/internal/pcm"
)

// File reads raw interleaved little-endian 32-bit samples from a file.
// At end of file the callback reports io.EOF, which the engine treats as
// end-of-stream; with looping enabled it seeks back to the start instead.
type File struct {
	f      *os.File
	format pcm.Format
	loop   bool
	buf    []byte
}

// OpenFile opens path as a raw sample stream at format f.
func OpenFile(path string, f pcm.Format, loop bool) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return &File{f: fd, format: f, loop: loop}, nil
}

// Read fills dst with up to maxFrames frames from the file.
func (s *File) Read(dst []pcm.Sample, maxFrames int) (int, pcm.Format, error) {
	ch := s.format.Channels
	want := maxFrames * ch * pcm.SampleBytes
	if len(s.buf) < want {
		s.buf = make([]byte, want)
	}

	n, err := io.ReadFull(s.f, s.buf[:want])
	frames := n / (ch * pcm.SampleBytes)
	for i := 0; i < frames*ch; i++ {
		dst[i] = pcm.GetSample(s.buf[i*pcm.SampleBytes:])
	}

	if err == io.ErrUnexpectedEOF || err == io.EOF {
		if frames > 0 {
			return frames, s.format, nil
		}
		if s.loop {
			if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
				return 0, s.format, fmt.Errorf("source: rewind: %w", serr)
			}
			return s.Read(dst, maxFrames)
		}
		return 0, s.format, io.EOF
	}
	if err != nil {
		return frames, s.format, fmt.Errorf("source: %w", err)
	}
	return frames, s.format, nil
}

// Close closes the underlying file.
func (s *File) Close() error {
	return s.f.Close()
}
