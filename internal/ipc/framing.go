package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

// readFrame reads one length-prefixed payload from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageSize {
		return nil, shaderrors.New(shaderrors.ErrCodeFrameTooLarge,
			fmt.Sprintf("frame of %d bytes exceeds max message size %d", n, MaxMessageSize), nil)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes payload to w prefixed with its big-endian length.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return shaderrors.New(shaderrors.ErrCodeFrameTooLarge,
			fmt.Sprintf("payload of %d bytes exceeds max message size %d", len(payload), MaxMessageSize), nil)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadMessage reads and decodes one Message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeFrameMalformed, err)
	}
	return &msg, nil
}

// WriteMessage encodes and writes msg to w.
func WriteMessage(w io.Writer, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return writeFrame(w, payload)
}

// ReadResponse reads and decodes one Response from r.
func ReadResponse(r io.Reader) (*Response, error) {
	payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeFrameMalformed, err)
	}
	return &resp, nil
}

// WriteResponse encodes and writes resp to w.
func WriteResponse(w io.Writer, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(w, payload)
}
