// Package ipc implements the length-prefixed msgpack frame protocol used
// between the postprocess worker pool and its elm-watch-node sub-process
// workers: a 4-byte big-endian length prefix followed by a msgpack-encoded
// message body.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size limits. Postprocess payloads are compiled JS/CSS/whatever the
// target produces, not unbounded streams, so a generous-but-bounded limit
// catches a runaway worker without constraining real use.
const (
	MaxFrameSize     = 64 * 1024 * 1024
	LengthPrefixSize = 4
	MaxPayloadSize   = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies a frame decoding failure.
type FrameErrorKind int

const (
	FrameErrorPartial FrameErrorKind = iota
	FrameErrorTooLarge
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether this error should terminate the worker rather
// than just fail the in-flight call.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err is a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// MessageTag discriminates the two message shapes exchanged with a worker.
type MessageTag string

const (
	TagStartPostprocess MessageTag = "StartPostprocess"
	TagPostprocessDone  MessageTag = "PostprocessDone"
)

// StartPostprocessArgs is the payload of a StartPostprocess message: the
// arguments a worker-script postprocess function is called with.
type StartPostprocessArgs struct {
	Cwd       string   `msgpack:"cwd"`
	UserArgs  []string `msgpack:"user_args"`
	ExtraArgs []string `msgpack:"extra_args"`
	Code      string   `msgpack:"code"`
}

// StartPostprocessMessage is sent pool -> worker to begin one postprocess
// call.
type StartPostprocessMessage struct {
	Tag  MessageTag           `msgpack:"tag"`
	Args StartPostprocessArgs `msgpack:"args"`
}

// PostprocessResult is the value side of a successful PostprocessDone
// message. The worker cannot ship binary buffers across the boundary, so
// Code is a string; the pool re-encodes it to bytes on receipt.
type PostprocessResult struct {
	Code string `msgpack:"code"`
}

// PostprocessErrorKind names which of the worker-script error classifications
// (see project.StatusWorker*) a PostprocessError carries.
type PostprocessErrorKind string

const (
	ErrImportFailure  PostprocessErrorKind = "ImportFailure"
	ErrNotFunction    PostprocessErrorKind = "NotFunction"
	ErrRuntimeError   PostprocessErrorKind = "RuntimeError"
	ErrBadReturnValue PostprocessErrorKind = "BadReturnValue"
)

// PostprocessError carries one of the worker-classified error kinds.
type PostprocessError struct {
	Kind           PostprocessErrorKind `msgpack:"kind"`
	ScriptPath     string               `msgpack:"script_path,omitempty"`
	ModuleNotFound bool                 `msgpack:"module_not_found,omitempty"`
	ActualType     string               `msgpack:"actual_type,omitempty"`
	Args           []string             `msgpack:"args,omitempty"`
	Detail         string               `msgpack:"detail,omitempty"`
}

// PostprocessDoneMessage is sent worker -> pool when a call finishes.
// Exactly one of Resolve/Reject is populated.
type PostprocessDoneMessage struct {
	Tag     MessageTag         `msgpack:"tag"`
	Resolve *PostprocessResult `msgpack:"resolve,omitempty"`
	Reject  *PostprocessError  `msgpack:"reject,omitempty"`
}

// FrameDecoder decodes length-prefixed msgpack frames from a stream.
// Wraps the reader with bufio.Reader to reduce syscall overhead on the
// unbuffered stdout pipe of a worker sub-process.
type FrameDecoder struct {
	reader io.Reader
}

func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{reader: br}
}

// ReadFrame reads a single frame from the stream and returns its raw
// msgpack payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize)}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// DecodePostprocessDone decodes a payload as a PostprocessDoneMessage.
func DecodePostprocessDone(payload []byte) (*PostprocessDoneMessage, error) {
	var msg PostprocessDoneMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode postprocess-done message", Err: err}
	}
	return &msg, nil
}

// EncodeFrame encodes a payload with a 4-byte big-endian length prefix.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// EncodeStartPostprocess encodes a StartPostprocessMessage as a
// length-prefixed msgpack frame ready to write to a worker's stdin.
func EncodeStartPostprocess(msg *StartPostprocessMessage) ([]byte, error) {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode start-postprocess message: %w", err)
	}
	return EncodeFrame(payload), nil
}

// DecodeStartPostprocess decodes a payload as a StartPostprocessMessage.
// Used by a worker's runner harness to parse the pool's request.
func DecodeStartPostprocess(payload []byte) (*StartPostprocessMessage, error) {
	var msg StartPostprocessMessage
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode start-postprocess message", Err: err}
	}
	return &msg, nil
}

// EncodePostprocessDone encodes a PostprocessDoneMessage as a
// length-prefixed msgpack frame ready for a worker to write to its stdout,
// which the pool reads.
// Used by a worker's runner harness to reply.
func EncodePostprocessDone(msg *PostprocessDoneMessage) ([]byte, error) {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode postprocess-done message: %w", err)
	}
	return EncodeFrame(payload), nil
}
