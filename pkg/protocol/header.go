package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFilename is the width of the filename field on the wire. The last
	// byte is always NUL, so at most MaxFilename-1 bytes are meaningful.
	MaxFilename = 256

	// HeaderSize is the full width of an encoded FileHeader, including the
	// trailing alignment padding of the LP64 C layout.
	HeaderSize = 272

	sizeOffset    = MaxFilename
	flagOffset    = sizeOffset + 8
	paddingOffset = flagOffset + 4
)

// TransferFlag is the per-file transfer marker.
type TransferFlag int32

const (
	FlagReady TransferFlag = 0
	FlagStart TransferFlag = 1
	FlagEnd   TransferFlag = 2
)

func (f TransferFlag) String() string {
	switch f {
	case FlagReady:
		return "ready"
	case FlagStart:
		return "start"
	case FlagEnd:
		return "end"
	default:
		return fmt.Sprintf("flag(%d)", int32(f))
	}
}

var (
	// ErrPeerClosed indicates the peer closed the connection on a header
	// boundary. It ends a session normally.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrFilenameTooLong indicates the filename does not fit the fixed field
	ErrFilenameTooLong = errors.New("filename too long")
	// ErrInvalidFilename indicates an empty filename or one containing NUL
	ErrInvalidFilename = errors.New("invalid filename")
	// ErrInvalidHeader indicates a decoded header violates its invariants
	ErrInvalidHeader = errors.New("invalid header")
)

// FileHeader precedes every file payload on the wire.
type FileHeader struct {
	Filename string
	Filesize int64
	Flag     TransferFlag
}

// Validate checks the header invariants shared by both ends.
func (h FileHeader) Validate() error {
	if h.Filename == "" || bytes.IndexByte([]byte(h.Filename), 0) >= 0 {
		return ErrInvalidFilename
	}
	if len(h.Filename) > MaxFilename-1 {
		return ErrFilenameTooLong
	}
	if h.Filesize < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidHeader, h.Filesize)
	}
	switch h.Flag {
	case FlagReady, FlagStart, FlagEnd:
	default:
		return fmt.Errorf("%w: unknown flag %d", ErrInvalidHeader, int32(h.Flag))
	}
	return nil
}

// MarshalBinary encodes the header into its fixed little-endian layout.
func (h FileHeader) MarshalBinary() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize)
	copy(buf[:MaxFilename-1], h.Filename)
	binary.LittleEndian.PutUint64(buf[sizeOffset:flagOffset], uint64(h.Filesize))
	binary.LittleEndian.PutUint32(buf[flagOffset:paddingOffset], uint32(h.Flag))
	return buf, nil
}

// UnmarshalBinary decodes a header from exactly HeaderSize bytes.
// The filename ends at the first NUL; bytes after it are ignored.
func (h *FileHeader) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHeader, len(data), HeaderSize)
	}
	name := data[:MaxFilename]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	decoded := FileHeader{
		Filename: string(name),
		Filesize: int64(binary.LittleEndian.Uint64(data[sizeOffset:flagOffset])),
		Flag:     TransferFlag(int32(binary.LittleEndian.Uint32(data[flagOffset:paddingOffset]))),
	}
	if decoded.Filesize < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidHeader, decoded.Filesize)
	}
	switch decoded.Flag {
	case FlagReady, FlagStart, FlagEnd:
	default:
		return fmt.Errorf("%w: unknown flag %d", ErrInvalidHeader, int32(decoded.Flag))
	}
	*h = decoded
	return nil
}

// WriteHeader writes the full encoded header before any payload byte.
func WriteHeader(w io.Writer, h FileHeader) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads one header. A peer that closes before sending any header
// byte yields ErrPeerClosed; a peer that closes mid-header yields an error
// wrapping io.ErrUnexpectedEOF.
func ReadHeader(r io.Reader) (FileHeader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return FileHeader{}, ErrPeerClosed
		}
		return FileHeader{}, fmt.Errorf("failed to read header: %w", err)
	}
	var h FileHeader
	if err := h.UnmarshalBinary(buf); err != nil {
		return FileHeader{}, err
	}
	return h, nil
}
