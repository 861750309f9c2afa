package syscall

import (
	"encoding/binary"

	"github.com/exos-project/exoscore/internal/xerrors"
	"github.com/exos-project/exoscore/pkg/corestring"
	"github.com/exos-project/exoscore/pkg/memory"
)

// ParamHeader is the {Size, Version, Flags} prefix every syscall
// parameter struct begins with (spec §4.8/§6).
type ParamHeader struct {
	Size    uint32
	Version uint32
	Flags   uint32
}

const paramHeaderSize = 12

// ValidateInputPointer implements the SAFE_USE_INPUT_POINTER discipline:
// linear must be non-null, resident in space, and its embedded
// Header.Size must be at least expectedSize. On success it returns the
// decoded header; on any failure it returns an error without touching
// memory beyond what validation itself required.
func ValidateInputPointer(space *memory.AddressSpace, linear uint32, expectedSize uint32) (ParamHeader, error) {
	if linear == 0 {
		return ParamHeader{}, xerrors.ErrInvalid
	}
	for off := uint32(0); off < paramHeaderSize; off++ {
		if !space.IsValidMemory(linear + off) {
			return ParamHeader{}, xerrors.ErrInvalid
		}
	}
	hdr, err := readHeader(space, linear)
	if err != nil {
		return ParamHeader{}, err
	}
	if hdr.Size < expectedSize {
		return ParamHeader{}, xerrors.ErrInvalid
	}
	return hdr, nil
}

func readHeader(space *memory.AddressSpace, linear uint32) (ParamHeader, error) {
	var raw [paramHeaderSize]byte
	for i := range raw {
		b, ok := space.ReadByte(linear + uint32(i))
		if !ok {
			return ParamHeader{}, xerrors.ErrInvalid
		}
		raw[i] = b
	}
	return ParamHeader{
		Size:    binary.LittleEndian.Uint32(raw[0:4]),
		Version: binary.LittleEndian.Uint32(raw[4:8]),
		Flags:   binary.LittleEndian.Uint32(raw[8:12]),
	}, nil
}

// ReadUint32 reads a little-endian u32 at linear, validated resident.
func ReadUint32(space *memory.AddressSpace, linear uint32) (uint32, error) {
	var raw [4]byte
	for i := range raw {
		b, ok := space.ReadByte(linear + uint32(i))
		if !ok {
			return 0, xerrors.ErrInvalid
		}
		raw[i] = b
	}
	return binary.LittleEndian.Uint32(raw[:]), nil
}

// WriteUint32 writes a little-endian u32 at linear, validated resident.
func WriteUint32(space *memory.AddressSpace, linear uint32, v uint32) error {
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], v)
	for i, b := range raw {
		if !space.WriteByte(linear+uint32(i), b) {
			return xerrors.ErrInvalid
		}
	}
	return nil
}

// ReadName reads a NUL-terminated name of at most
// corestring.MaxNameLength-1 bytes starting at linear, the layout
// CreateProcess/CreateTask's parameter structs use for the new
// process/task name.
func ReadName(space *memory.AddressSpace, linear uint32) (string, error) {
	var buf [corestring.MaxNameLength - 1]byte
	n := 0
	for ; n < len(buf); n++ {
		b, ok := space.ReadByte(linear + uint32(n))
		if !ok {
			return "", xerrors.ErrInvalid
		}
		if b == 0 {
			break
		}
		buf[n] = b
	}
	return string(buf[:n]), nil
}
