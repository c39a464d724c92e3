package imaging

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// MetadataState describes what was found in an image's capture metadata.
type MetadataState int

const (
	// MetadataAbsent means the container carries no EXIF block.
	MetadataAbsent MetadataState = iota
	// MetadataPresent means an EXIF block was found and parsed.
	MetadataPresent
	// MetadataUnreadable means an EXIF block exists but could not be parsed.
	MetadataUnreadable
)

// Metadata is the subset of EXIF the analyzers inspect.
type Metadata struct {
	State    MetadataState
	Software string
}

// ReadMetadata locates and parses the EXIF block of an encoded image.
func ReadMetadata(raw []byte, format string) Metadata {
	var block []byte
	switch format {
	case "jpeg":
		block = jpegExif(raw)
	case "png":
		block = pngExif(raw)
	case "webp":
		block = webpExif(raw)
	case "tiff":
		block = raw
	}
	if len(block) == 0 {
		return Metadata{State: MetadataAbsent}
	}

	x, err := exif.Decode(bytes.NewReader(block))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		return Metadata{State: MetadataUnreadable}
	}

	md := Metadata{State: MetadataPresent}
	if tag, err := x.Get(exif.Software); err == nil {
		if s, err := tag.StringVal(); err == nil {
			md.Software = strings.TrimSpace(strings.TrimRight(s, "\x00"))
		}
	}
	return md
}

// HasSoftware reports whether the EXIF Software tag mentions any of names.
func (m Metadata) HasSoftware(names ...string) bool {
	sw := strings.ToLower(m.Software)
	if sw == "" {
		return false
	}
	for _, n := range names {
		if strings.Contains(sw, n) {
			return true
		}
	}
	return false
}

var exifHeader = []byte("Exif\x00\x00")

// jpegExif returns the APP1 payload starting at the "Exif" header.
func jpegExif(raw []byte) []byte {
	if len(raw) < 4 || raw[0] != 0xFF || raw[1] != 0xD8 {
		return nil
	}
	for i := 2; i+4 <= len(raw); {
		if raw[i] != 0xFF {
			return nil
		}
		marker := raw[i+1]
		if marker == 0xD8 || marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			i += 2
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			return nil
		}
		size := int(binary.BigEndian.Uint16(raw[i+2 : i+4]))
		end := i + 2 + size
		if size < 2 || end > len(raw) {
			return nil
		}
		payload := raw[i+4 : end]
		if marker == 0xE1 && bytes.HasPrefix(payload, exifHeader) {
			return payload
		}
		i = end
	}
	return nil
}

// pngExif returns the eXIf chunk, which holds a bare TIFF structure.
func pngExif(raw []byte) []byte {
	const sigLen = 8
	for i := sigLen; i+8 <= len(raw); {
		size := int(binary.BigEndian.Uint32(raw[i : i+4]))
		typ := string(raw[i+4 : i+8])
		end := i + 8 + size
		if size < 0 || end > len(raw) {
			return nil
		}
		if typ == "eXIf" {
			return raw[i+8 : end]
		}
		if typ == "IEND" {
			return nil
		}
		i = end + 4
	}
	return nil
}

// webpExif returns the EXIF chunk of a RIFF/WEBP container.
func webpExif(raw []byte) []byte {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WEBP" {
		return nil
	}
	for i := 12; i+8 <= len(raw); {
		typ := string(raw[i : i+4])
		size := int(binary.LittleEndian.Uint32(raw[i+4 : i+8]))
		end := i + 8 + size
		if size < 0 || end > len(raw) {
			return nil
		}
		if typ == "EXIF" {
			return bytes.TrimPrefix(raw[i+8:end], exifHeader)
		}
		i = end + size%2
	}
	return nil
}
