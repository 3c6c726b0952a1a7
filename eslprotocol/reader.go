package eslprotocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

// FrameReader reads classified frames from a line-buffered stream.
//
// A frame is a header block terminated by a blank line, followed by a
// Content-Length body when its Content-Type requires one. FrameReader does not
// touch connection state; routing the frames it produces is the client's job.
type FrameReader struct {
	r      *bufio.Reader
	logger *slog.Logger

	// maxStalls is the number of consecutive zero-progress reads tolerated
	// while collecting a body.
	maxStalls  int
	backoffMin time.Duration
	backoffMax time.Duration

	maxBody int
}

// NewFrameReader wraps r. A nil logger discards log output.
func NewFrameReader(r io.Reader, logger *slog.Logger) *FrameReader {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameReader{
		r:          br,
		logger:     logger,
		maxStalls:  MaxBodyReadAttempts,
		backoffMin: 10 * time.Millisecond,
		backoffMax: BodyReadBackoffMax,
		maxBody:    MaxBodySize,
	}
}

// ReadFrame reads the next frame. It returns io.EOF when the stream ends
// cleanly between frames.
func (fr *FrameReader) ReadFrame() (*Event, error) {
	block, err := fr.readHeaderBlock()
	if err != nil {
		return nil, err
	}

	ev := ParseEvent(block)

	switch ev.ContentType() {
	case ContentTypeAuthRequest:
		// no body

	case ContentTypeCommandReply:
		ev.Body = []byte(ev.ReplyText())

	case ContentTypeAPIResponse, ContentTypeLogData,
		ContentTypeDisconnectNotice, ContentTypeRudeRejection:
		body, err := fr.readBodyFor(ev)
		if err != nil {
			return nil, err
		}
		ev.Body = body

	default:
		body, err := fr.readBodyFor(ev)
		if err != nil {
			return nil, err
		}
		ev.mergeNested(body)
	}

	return ev, nil
}

// readHeaderBlock collects lines up to the first blank line. Blank lines
// between frames are skipped.
func (fr *FrameReader) readHeaderBlock() (string, error) {
	var buf strings.Builder
	for {
		line, err := fr.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && buf.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}

		if line == EOL || line == "\r\n" {
			if buf.Len() == 0 {
				continue
			}
			return buf.String(), nil
		}

		if buf.Len()+len(line) > MaxHeaderBlockSize {
			return "", ErrHeaderTooLarge
		}
		buf.WriteString(line)
	}
}

// readBodyFor reads the Content-Length body declared by ev, if any.
func (fr *FrameReader) readBodyFor(ev *Event) ([]byte, error) {
	n, ok := ev.ContentLength()
	if !ok || n == 0 {
		return nil, nil
	}
	if n > fr.maxBody {
		return nil, fmt.Errorf("%w: Content-Length %d exceeds %d", ErrBodyTooLarge, n, fr.maxBody)
	}
	return fr.readBody(n)
}

// readBody collects exactly n bytes. Short reads are continued for the
// remainder; reads that make no progress back off and give up after
// maxStalls attempts.
func (fr *FrameReader) readBody(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	stalls := 0
	b := &backoff.Backoff{Min: fr.backoffMin, Max: fr.backoffMax, Factor: 2}

	for got < n {
		k, err := fr.r.Read(buf[got:])
		got += k
		if got == n {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %d of %d bytes: %w", ErrShortBody, got, n, err)
		}
		if k == 0 {
			stalls++
			if stalls >= fr.maxStalls {
				return nil, fmt.Errorf("%w: no progress after %d reads (%d of %d bytes)", ErrShortBody, stalls, got, n)
			}
			time.Sleep(b.Duration())
			continue
		}
		stalls = 0
		b.Reset()
		fr.logger.Debug("partial body read, waiting for remainder", "want", n, "got", got)
	}

	return buf, nil
}

// mergeNested folds a plain-event body into e as additional headers. When the
// nested block declares its own Content-Length and contains a blank line, the
// bytes after the blank line become e's body.
func (e *Event) mergeNested(body []byte) {
	if len(body) == 0 {
		return
	}
	text := string(body)

	if i := strings.Index(text, EOL+EOL); i >= 0 {
		inner := ParseEvent(text[:i])
		if n, ok := inner.ContentLength(); ok {
			e.parseHeaders(text[:i])
			rest := text[i+2:]
			if len(rest) > n {
				rest = rest[:n]
			}
			e.Body = []byte(rest)
			return
		}
	}

	e.parseHeaders(text)
}
