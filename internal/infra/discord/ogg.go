package discord

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"sync/atomic"
)

// oggHeaderLen is the fixed ogg page header size up to the segment table.
const oggHeaderLen = 27

// opusProvider implements voice.OpusFrameProvider by parsing the ogg
// container ffmpeg writes to stdout into raw opus packets. When paused it
// yields silence without consuming the stream.
type opusProvider struct {
	reader    *bufio.Reader
	header    []byte
	segBuf    []byte
	packetBuf bytes.Buffer
	pending   [][]byte

	paused   atomic.Bool
	onFinish func()
	once     sync.Once
}

func newOpusProvider(r io.Reader, onFinish func()) *opusProvider {
	return &opusProvider{
		reader:   bufio.NewReaderSize(r, 16384),
		header:   make([]byte, oggHeaderLen),
		segBuf:   make([]byte, 255),
		onFinish: onFinish,
	}
}

func (p *opusProvider) SetPaused(paused bool) {
	p.paused.Store(paused)
}

func (p *opusProvider) Paused() bool {
	return p.paused.Load()
}

func (p *opusProvider) Close() {}

func (p *opusProvider) finish() {
	p.once.Do(func() {
		if p.onFinish != nil {
			p.onFinish()
		}
	})
}

// ProvideOpusFrame returns the next opus packet, nil for a silence frame
// while paused, or io.EOF when the stream ends.
func (p *opusProvider) ProvideOpusFrame() ([]byte, error) {
	if p.paused.Load() {
		return nil, nil
	}

	if len(p.pending) > 0 {
		frame := p.pending[0]
		p.pending = p.pending[1:]
		return frame, nil
	}

	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			p.finish()
			return nil, err
		}

		// Resynchronize on the page capture pattern.
		if string(sig) != "OggS" {
			_, _ = p.reader.Discard(1)
			continue
		}

		if _, err := io.ReadFull(p.reader, p.header); err != nil {
			p.finish()
			return nil, err
		}

		numSegs := int(p.header[26])
		segTable := p.segBuf[:numSegs]
		if _, err := io.ReadFull(p.reader, segTable); err != nil {
			p.finish()
			return nil, err
		}

		for _, segLen := range segTable {
			l := int(segLen)
			if _, err := io.CopyN(&p.packetBuf, p.reader, int64(l)); err != nil {
				p.finish()
				return nil, err
			}

			// A lacing value under 255 terminates the packet.
			if l < 255 {
				payload := p.packetBuf.Bytes()
				frame := make([]byte, len(payload))
				copy(frame, payload)
				p.packetBuf.Reset()

				if isOpusMetadata(frame) {
					continue
				}
				p.pending = append(p.pending, frame)
			}
		}

		if len(p.pending) > 0 {
			frame := p.pending[0]
			p.pending = p.pending[1:]
			return frame, nil
		}
	}
}

// isOpusMetadata reports whether the packet is an OpusHead or OpusTags
// header rather than audio.
func isOpusMetadata(frame []byte) bool {
	if len(frame) < 8 {
		return false
	}
	sig := string(frame[:8])
	return sig == "OpusHead" || sig == "OpusTags"
}
