package pipeline

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"path"
	"strconv"
	"strings"
)

// Keys of the freedesktop thumbnail-managing standard.
const (
	KeyURI         = "Thumb::URI"
	KeyMTime       = "Thumb::MTime"
	KeySize        = "Thumb::Size"
	KeyMimetype    = "Thumb::Mimetype"
	KeyImageWidth  = "Thumb::Image::Width"
	KeyImageHeight = "Thumb::Image::Height"
)

// TextChunk is one uncompressed Latin-1 PNG tEXt entry.
type TextChunk struct {
	Keyword string
	Text    string
}

// SourceInfo describes the file a thumbnail stands for.
type SourceInfo struct {
	URI      string
	MTime    float64
	Size     uint64
	MimeType string
	Width    int
	Height   int
}

// TextChunks renders the Thumb::* entries. Empty fields are skipped; URI
// and MTime are always written.
func (s SourceInfo) TextChunks() []TextChunk {
	chunks := []TextChunk{
		{Keyword: KeyURI, Text: s.URI},
		{Keyword: KeyMTime, Text: formatMTime(s.MTime)},
	}
	if s.Size > 0 {
		chunks = append(chunks, TextChunk{Keyword: KeySize, Text: strconv.FormatUint(s.Size, 10)})
	}
	if s.MimeType != "" {
		chunks = append(chunks, TextChunk{Keyword: KeyMimetype, Text: s.MimeType})
	}
	if s.Width > 0 && s.Height > 0 {
		chunks = append(chunks,
			TextChunk{Keyword: KeyImageWidth, Text: strconv.Itoa(s.Width)},
			TextChunk{Keyword: KeyImageHeight, Text: strconv.Itoa(s.Height)},
		)
	}
	return chunks
}

// SameFile reports whether s and other describe the same revision of a
// file: equal URI, equal MTime at the precision Thumb::MTime is written
// with, and equal Size unless either side left it at zero.
func (s SourceInfo) SameFile(other SourceInfo) bool {
	if s.URI != other.URI || formatMTime(s.MTime) != formatMTime(other.MTime) {
		return false
	}
	return s.Size == 0 || other.Size == 0 || s.Size == other.Size
}

func formatMTime(mtime float64) string {
	return strconv.FormatFloat(mtime, 'f', 6, 64)
}

// StoredSource reads the file description embedded in an existing
// thumbnail. Thumb::URI and Thumb::MTime are required; a missing or
// unparsable Thumb::Size reads as zero.
func StoredSource(thumbnail []byte) (SourceInfo, error) {
	chunks, err := ReadTextChunks(thumbnail)
	if err != nil {
		return SourceInfo{}, err
	}

	var (
		info               SourceInfo
		haveURI, haveMTime bool
	)
	for _, c := range chunks {
		switch c.Keyword {
		case KeyURI:
			info.URI, haveURI = c.Text, true
		case KeyMTime:
			mtime, err := strconv.ParseFloat(c.Text, 64)
			if err == nil {
				info.MTime, haveMTime = mtime, true
			}
		case KeySize:
			info.Size, _ = strconv.ParseUint(c.Text, 10, 64)
		case KeyMimetype:
			info.MimeType = c.Text
		case KeyImageWidth:
			info.Width, _ = strconv.Atoi(c.Text)
		case KeyImageHeight:
			info.Height, _ = strconv.Atoi(c.Text)
		}
	}
	if !haveURI {
		return SourceInfo{}, fmt.Errorf("%w: thumbnail has no %s entry", ErrCorruptInput, KeyURI)
	}
	if !haveMTime {
		return SourceInfo{}, fmt.Errorf("%w: thumbnail has no valid %s entry", ErrCorruptInput, KeyMTime)
	}
	return info, nil
}

// UpToDate reports whether thumbnail was generated from the current
// revision of source. Thumbnails that cannot be read are stale.
func UpToDate(thumbnail []byte, source SourceInfo) bool {
	stored, err := StoredSource(thumbnail)
	return err == nil && stored.SameFile(source)
}

// ThumbnailName is the cache file name for uri: lowercase hex MD5 plus ".png".
func ThumbnailName(uri string) string {
	sum := md5.Sum([]byte(uri))
	return hex.EncodeToString(sum[:]) + ".png"
}

// Flavor is a freedesktop thumbnail size class.
type Flavor string

const (
	FlavorNormal  Flavor = "normal"
	FlavorLarge   Flavor = "large"
	FlavorXLarge  Flavor = "x-large"
	FlavorXXLarge Flavor = "xx-large"
)

var Flavors = []Flavor{FlavorNormal, FlavorLarge, FlavorXLarge, FlavorXXLarge}

func ParseFlavor(name string) (Flavor, error) {
	f := Flavor(strings.ToLower(strings.TrimSpace(name)))
	if f.Dimension() == 0 {
		return "", fmt.Errorf("%w: unknown flavor %q", ErrInvalidParameters, name)
	}
	return f, nil
}

// Dimension is the side of the square box the flavor fits into.
func (f Flavor) Dimension() int {
	switch f {
	case FlavorNormal:
		return 128
	case FlavorLarge:
		return 256
	case FlavorXLarge:
		return 512
	case FlavorXXLarge:
		return 1024
	default:
		return 0
	}
}

// CachePath is the path relative to the thumbnail cache root.
func (f Flavor) CachePath(uri string) string {
	return path.Join(string(f), ThumbnailName(uri))
}

var (
	pngSignature = signaturePNG
	ihdrEnd      = len(pngSignature) + 4 + 4 + 13 + 4
)

// insertTextChunks places tEXt chunks directly after IHDR.
func insertTextChunks(encoded []byte, chunks []TextChunk) ([]byte, error) {
	if len(encoded) < ihdrEnd || !bytes.HasPrefix(encoded, pngSignature) || string(encoded[12:16]) != "IHDR" {
		return nil, errors.New("not a png stream")
	}

	var text bytes.Buffer
	for _, c := range chunks {
		if err := writeTextChunk(&text, c); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, len(encoded)+text.Len())
	out = append(out, encoded[:ihdrEnd]...)
	out = append(out, text.Bytes()...)
	out = append(out, encoded[ihdrEnd:]...)
	return out, nil
}

func writeTextChunk(w *bytes.Buffer, c TextChunk) error {
	if len(c.Keyword) == 0 || len(c.Keyword) > 79 {
		return fmt.Errorf("tEXt keyword %q must be 1-79 bytes", c.Keyword)
	}
	if strings.IndexByte(c.Keyword, 0) >= 0 || strings.IndexByte(c.Text, 0) >= 0 {
		return fmt.Errorf("tEXt entry %q contains a NUL byte", c.Keyword)
	}

	data := make([]byte, 0, len(c.Keyword)+1+len(c.Text))
	data = append(data, c.Keyword...)
	data = append(data, 0)
	data = append(data, c.Text...)

	var head [8]byte
	binary.BigEndian.PutUint32(head[:4], uint32(len(data)))
	copy(head[4:], "tEXt")

	crc := crc32.NewIEEE()
	crc.Write(head[4:])
	crc.Write(data)

	w.Write(head[:])
	w.Write(data)
	return binary.Write(w, binary.BigEndian, crc.Sum32())
}

// ReadTextChunks returns the tEXt entries of a PNG stream in file order.
func ReadTextChunks(data []byte) ([]TextChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("%w: not a png stream", ErrUnsupportedFormat)
	}

	var chunks []TextChunk
	for off := len(pngSignature); off+12 <= len(data); {
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		kind := string(data[off+4 : off+8])
		end := off + 8 + n + 4
		if n < 0 || end > len(data) {
			return nil, fmt.Errorf("%w: chunk %q overruns stream", ErrCorruptInput, kind)
		}
		body := data[off+8 : off+8+n]
		switch kind {
		case "tEXt":
			keyword, text, ok := bytes.Cut(body, []byte{0})
			if !ok {
				return nil, fmt.Errorf("%w: tEXt chunk without separator", ErrCorruptInput)
			}
			chunks = append(chunks, TextChunk{Keyword: string(keyword), Text: string(text)})
		case "IEND":
			return chunks, nil
		}
		off = end
	}
	return nil, fmt.Errorf("%w: png stream has no IEND", ErrCorruptInput)
}
