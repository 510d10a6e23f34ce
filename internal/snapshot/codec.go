// Package snapshot stores captured preference sets on disk so an apply can
// be rolled back or a configuration restored later.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/stegru/morphic-windows/internal/settings"
)

// Binary format constants
const (
	MagicBytes    = "MSNP"
	FormatVersion = 1
)

const flagCompressed uint16 = 1 << 0

// ErrCorrupt is returned for files that are not intact snapshots.
var ErrCorrupt = errors.New("corrupt snapshot")

type header struct {
	Magic    [4]byte
	Version  uint16
	Flags    uint16
	DataLen  uint64
	Checksum uint32
}

var headerSize = binary.Size(header{})

// Snapshot is a named preference set.
type Snapshot struct {
	ID          string                `msgpack:"id"`
	Name        string                `msgpack:"name"`
	CreatedAt   time.Time             `msgpack:"created_at"`
	Preferences *settings.Preferences `msgpack:"preferences"`
}

// Encode serializes a snapshot: header, then msgpack data, gzip compressed
// when that is smaller.
func Encode(s *Snapshot) ([]byte, error) {
	data, err := msgpack.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}

	var flags uint16
	compressed, err := compress(data)
	if err != nil {
		return nil, err
	}
	if len(compressed) < len(data) {
		data = compressed
		flags |= flagCompressed
	}

	h := header{
		Version:  FormatVersion,
		Flags:    flags,
		DataLen:  uint64(len(data)),
		Checksum: crc32.ChecksumIEEE(data),
	}
	copy(h.Magic[:], MagicBytes)

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, errors.Wrap(err, "write header")
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// Decode parses a snapshot written by Encode.
func Decode(raw []byte) (*Snapshot, error) {
	if len(raw) < headerSize {
		return nil, errors.Wrap(ErrCorrupt, "data too short")
	}

	r := bytes.NewReader(raw)
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	if string(h.Magic[:]) != MagicBytes {
		return nil, errors.Wrap(ErrCorrupt, "invalid magic bytes")
	}
	if h.Version > FormatVersion {
		return nil, errors.Wrapf(ErrCorrupt, "unsupported format version %d", h.Version)
	}
	if h.DataLen != uint64(r.Len()) {
		return nil, errors.Wrap(ErrCorrupt, "length mismatch")
	}

	data := raw[headerSize:]
	if crc32.ChecksumIEEE(data) != h.Checksum {
		return nil, errors.Wrap(ErrCorrupt, "checksum mismatch")
	}

	if h.Flags&flagCompressed != 0 {
		var err error
		if data, err = decompress(data); err != nil {
			return nil, errors.Wrap(ErrCorrupt, err.Error())
		}
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	if s.Preferences == nil {
		s.Preferences = settings.NewPreferences()
	}
	return &s, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "compress")
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
