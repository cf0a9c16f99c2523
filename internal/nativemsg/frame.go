// Package nativemsg implements the browser native messaging wire format and
// the background endpoint's side of the native channel.
//
// Each message is a 4-byte little-endian length followed by that many bytes
// of UTF-8 JSON.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest message accepted in either direction.
const MaxFrameSize = 1 << 20

// MsgShortcutPulse is the only message a native host sends.
const MsgShortcutPulse = "shortcut_pulse"

// ErrFrameTooLarge is returned for frames longer than MaxFrameSize.
var ErrFrameTooLarge = errors.New("nativemsg: frame too large")

// errDecode marks errors after which the frame stream is still aligned.
var errDecode = errors.New("nativemsg: decode")

// Message is the JSON body of a native frame.
type Message struct {
	ID string `json:"id"`
}

// ReadFrame reads one frame body. io.EOF is returned unwrapped when r ends
// cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("nativemsg: read header: %w", err)
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("nativemsg: read body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body as one frame with a single Write call.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("nativemsg: write frame: %w", err)
	}
	return nil
}

// ReadMessage reads and decodes one frame.
func ReadMessage(r io.Reader) (Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w message: %w", errDecode, err)
	}
	return msg, nil
}

// WriteMessage encodes and writes one frame.
func WriteMessage(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("nativemsg: encode message: %w", err)
	}
	return WriteFrame(w, body)
}
