package bridge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// MaxLineSize bounds one framed message.
const MaxLineSize = 10 * 1024 * 1024 // 10 MB

// Encoder writes newline-delimited envelopes to an io.Writer.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new envelope encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes one envelope followed by a newline and flushes.
func (e *Encoder) Encode(resp Response) error {
	return e.WriteRaw(Encode(resp))
}

// WriteRaw writes an already encoded envelope.
func (e *Encoder) WriteRaw(line []byte) error {
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// Decoder reads newline-delimited requests from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new request decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxLineSize)
	return &Decoder{
		r: scanner,
	}
}

// Next returns the next non-blank line. It returns io.EOF at the end of the
// stream.
func (d *Decoder) Next() ([]byte, error) {
	for d.r.Scan() {
		line := bytes.TrimSpace(d.r.Bytes())
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer.
		return append([]byte(nil), line...), nil
	}
	if err := d.r.Err(); err != nil {
		return nil, fmt.Errorf("scan error: %w", err)
	}
	return nil, io.EOF
}

// Serve answers every request line read from r with one envelope line on w,
// in order, until r is exhausted or ctx is done. A malformed line yields an
// INVALID_INPUT envelope and serving continues.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		dec := NewDecoder(r)
		for {
			line, err := dec.Next()
			if err != nil {
				if err != io.EOF {
					readErr <- err
				}
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	enc := NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if err := enc.WriteRaw(b.HandleJSON(ctx, line)); err != nil {
				return err
			}
		}
	}
}
