package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the length of the big-endian payload size prefix.
	HeaderSize = 4
	// MaxFrameSize bounds payloads accepted by Reader.
	MaxFrameSize = 64 << 20
)

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Encode returns m as a complete frame: size prefix followed by the payload.
func Encode(m Message) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+messageSize(m)), m)
}

// AppendFrame appends the frame for m to dst. On error dst is returned unchanged.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst, err := appendMessage(dst, m)
	if err != nil {
		return dst[:start], err
	}
	size := len(dst) - start - HeaderSize
	if size > MaxFrameSize {
		return dst[:start], errors.Wrapf(ErrFrameTooLarge, "%d bytes", size)
	}
	binary.BigEndian.PutUint32(dst[start:], uint32(size))
	return dst, nil
}

// Decoder pulls frames out of an accumulating byte buffer. Bytes are added
// with Write as they arrive; Next returns a message once a whole frame is
// buffered and leaves any surplus for the following call.
type Decoder struct {
	buf []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends p to the buffer. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered reports how many bytes are waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next decodes the next frame. It returns ok == false and a nil error when
// the buffer does not hold a complete frame yet. A frame whose payload cannot
// be decoded is consumed and reported as an error.
func (d *Decoder) Next() (m Message, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return nil, false, nil
	}
	size := uint64(binary.BigEndian.Uint32(d.buf))
	if size+HeaderSize > uint64(len(d.buf)) {
		return nil, false, nil
	}

	end := HeaderSize + int(size)
	m, err = Unmarshal(d.buf[HeaderSize:end])
	d.buf = append(d.buf[:0], d.buf[end:]...)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to decode frame payload")
	}
	return m, true, nil
}

// Reader reads frames from a blocking stream.
type Reader struct {
	r      io.Reader
	header [HeaderSize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadMessage blocks until a whole frame has been read. It returns io.EOF when
// the stream ends on a frame boundary and io.ErrUnexpectedEOF when it ends
// inside a frame.
func (r *Reader) ReadMessage() (Message, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(r.header[:])
	if size > MaxFrameSize {
		return nil, errors.Wrapf(ErrFrameTooLarge, "%d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return Unmarshal(payload)
}
