// Package snapshot frames serialized topologies for storage.
//
// An envelope is a small fixed header followed by the payload:
//
//	magic "HWTS" | version u8 | format u8 | compression u8 | codec name (u8 length + bytes)
//	size u32 | stored u32 | crc32c u32 | payload
//
// size is the uncompressed payload length, stored the compressed length or
// 0 when the payload is kept uncompressed, and the checksum covers the
// uncompressed payload. All integers are little endian. Plain XML documents
// are also accepted without an envelope.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hupe1980/hwtopo/codec"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/hash"
	"github.com/hupe1980/hwtopo/internal/xmlfmt"
	"github.com/hupe1980/hwtopo/model"
)

var (
	// ErrCorrupt is a truncated envelope or a checksum mismatch.
	ErrCorrupt = errors.New("snapshot: corrupt envelope")
	// ErrUnsupported is an unknown version, format, compression or codec.
	ErrUnsupported = errors.New("snapshot: unsupported envelope")
)

const (
	magic      = "HWTS"
	version    = 1
	fixedSize  = 4 + 1 + 1 + 1 + 1
	trailerLen = 12
	source     = "snapshot"
)

// Format is the serialization inside an envelope.
type Format uint8

const (
	FormatXML  Format = 1
	FormatJSON Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// Options control Encode.
type Options struct {
	Format      Format
	Compression Compression
	// Codec serializes JSON snapshots. Nil means codec.Default.
	Codec codec.Codec
	// XMLFlags are passed to the XML encoder.
	XMLFlags model.ExportXMLFlags
	// Raw writes uncompressed XML without an envelope, readable by other
	// hwloc-style tools.
	Raw bool
}

// OptionsFor derives options from a blob name: a ".zst" or ".lz4" suffix
// selects compression, then ".json" selects JSON and anything else XML.
// An uncompressed ".xml" name is written raw.
func OptionsFor(name string) Options {
	opts := Options{Format: FormatXML}
	switch path.Ext(name) {
	case ".zst":
		opts.Compression = CompressionZstd
		name = strings.TrimSuffix(name, ".zst")
	case ".lz4":
		opts.Compression = CompressionLZ4
		name = strings.TrimSuffix(name, ".lz4")
	}
	switch path.Ext(name) {
	case ".json":
		opts.Format = FormatJSON
	case ".xml":
		opts.Raw = opts.Compression == CompressionNone
	}
	return opts
}

// Info describes a decoded snapshot.
type Info struct {
	Format      Format
	Compression Compression
	Codec       string
	Raw         bool
	// Size is the uncompressed payload size.
	Size int
}

// Encode serializes r according to opts.
func Encode(r *discovery.Result, opts Options) ([]byte, error) {
	if opts.Format == 0 {
		opts.Format = FormatXML
	}
	var payload []byte
	codecName := ""
	switch opts.Format {
	case FormatXML:
		var buf bytes.Buffer
		if err := xmlfmt.Encode(&buf, r, opts.XMLFlags); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
	case FormatJSON:
		c := opts.Codec
		if c == nil {
			c = codec.Default
		}
		b, err := c.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %s encode: %w", c.Name(), err)
		}
		payload, codecName = b, c.Name()
	default:
		return nil, fmt.Errorf("%w: format %d", ErrUnsupported, uint8(opts.Format))
	}

	if opts.Raw && opts.Format == FormatXML && opts.Compression == CompressionNone {
		return payload, nil
	}

	packed, err := compress(payload, opts.Compression)
	if err != nil {
		return nil, err
	}
	stored := payload
	if packed != nil {
		stored = packed
	}

	out := make([]byte, 0, fixedSize+len(codecName)+trailerLen+len(stored))
	out = append(out, magic...)
	out = append(out, version, byte(opts.Format), byte(opts.Compression), byte(len(codecName)))
	out = append(out, codecName...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(packed)))
	out = binary.LittleEndian.AppendUint32(out, hash.CRC32C(payload))
	return append(out, stored...), nil
}

// Decode parses an envelope or a raw XML document.
func Decode(data []byte) (*discovery.Result, Info, error) {
	if !bytes.HasPrefix(data, []byte(magic)) {
		trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
		if !bytes.HasPrefix(trimmed, []byte("<")) {
			return nil, Info{}, discovery.Wrap(discovery.KindSyntax, source, fmt.Errorf("%w: bad magic", ErrCorrupt))
		}
		r, err := xmlfmt.Decode(bytes.NewReader(data))
		return r, Info{Format: FormatXML, Raw: true, Size: len(data)}, err
	}

	info, payload, err := open(data)
	if err != nil {
		return nil, info, discovery.Wrap(discovery.KindSyntax, source, err)
	}

	switch info.Format {
	case FormatXML:
		r, err := xmlfmt.Decode(bytes.NewReader(payload))
		return r, info, err
	case FormatJSON:
		c, ok := codec.ByName(info.Codec)
		if !ok {
			return nil, info, discovery.Wrap(discovery.KindUnsupported, source, fmt.Errorf("%w: codec %q", ErrUnsupported, info.Codec))
		}
		var r discovery.Result
		if err := c.Unmarshal(payload, &r); err != nil {
			return nil, info, discovery.Wrap(discovery.KindSyntax, source, err)
		}
		return &r, info, nil
	default:
		return nil, info, discovery.Wrap(discovery.KindUnsupported, source, fmt.Errorf("%w: format %d", ErrUnsupported, uint8(info.Format)))
	}
}

func open(data []byte) (Info, []byte, error) {
	var info Info
	if len(data) < fixedSize {
		return info, nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if data[4] != version {
		return info, nil, fmt.Errorf("%w: version %d", ErrUnsupported, data[4])
	}
	info.Format = Format(data[5])
	info.Compression = Compression(data[6])
	n := int(data[7])
	rest := data[fixedSize:]
	if len(rest) < n+trailerLen {
		return info, nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	info.Codec = string(rest[:n])
	rest = rest[n:]

	size := binary.LittleEndian.Uint32(rest[0:])
	stored := binary.LittleEndian.Uint32(rest[4:])
	sum := binary.LittleEndian.Uint32(rest[8:])
	body := rest[trailerLen:]
	info.Size = int(size)

	var payload []byte
	if stored == 0 {
		if uint32(len(body)) != size {
			return info, nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(body), size)
		}
		payload = body
	} else {
		if uint32(len(body)) != stored {
			return info, nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorrupt, len(body), stored)
		}
		var err error
		if payload, err = decompress(body, info.Compression, size); err != nil {
			return info, nil, err
		}
	}
	if hash.CRC32C(payload) != sum {
		return info, nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return info, payload, nil
}
