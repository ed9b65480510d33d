package mp4

import (
	"bytes"
	"maps"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"m7s.live/mp4demux/pkg/box"
)

type MetadataKey int

const (
	KeyArtist MetadataKey = iota
	KeyTitle
	KeyDate
	KeyLocation
	KeyComment
	KeyCopyright
	KeyMaker
	KeyModel
	KeyVersion
	KeyEncoder
	metadataKeyCount
)

var metadataKeyNames = [metadataKeyCount]string{
	"artist", "title", "date", "location", "comment",
	"copyright", "maker", "model", "version", "encoder",
}

func (k MetadataKey) String() string {
	if k >= 0 && k < metadataKeyCount {
		return metadataKeyNames[k]
	}
	return "unknown"
}

// MetadataKeys lists every key in display order.
func MetadataKeys() []MetadataKey {
	keys := make([]MetadataKey, metadataKeyCount)
	for i := range keys {
		keys[i] = MetadataKey(i)
	}
	return keys
}

// MetadataSet holds file level tags. A missing key means the file does not carry it.
type MetadataSet map[MetadataKey]string

func tag(s string) [4]byte {
	return [4]byte{0xA9, s[0], s[1], s[2]}
}

// iTunes ilst items and QuickTime udta text atoms share these types
var itunesTags = map[[4]byte]MetadataKey{
	tag("ART"):           KeyArtist,
	tag("nam"):           KeyTitle,
	tag("day"):           KeyDate,
	tag("xyz"):           KeyLocation,
	tag("cmt"):           KeyComment,
	tag("cpy"):           KeyCopyright,
	{'c', 'p', 'r', 't'}: KeyCopyright,
	tag("mak"):           KeyMaker,
	tag("mod"):           KeyModel,
	tag("swr"):           KeyVersion,
	tag("too"):           KeyEncoder,
}

const mdtaPrefix = "com.apple.quicktime."

var mdtaKeys = map[string]MetadataKey{
	"artist":           KeyArtist,
	"title":            KeyTitle,
	"creationdate":     KeyDate,
	"location.ISO6709": KeyLocation,
	"comment":          KeyComment,
	"copyright":        KeyCopyright,
	"make":             KeyMaker,
	"model":            KeyModel,
	"software":         KeyVersion,
	"encoder":          KeyEncoder,
}

const mdtaArtwork = mdtaPrefix + "artwork"

// metadata sources, highest precedence first
const (
	sourceKeys = iota
	sourceItunes
	sourceUserData
	sourceCount
)

type metadataCollector struct {
	values [sourceCount]MetadataSet
	covers [sourceCount]*CoverImage
	// keys boxes by the offset of their meta box
	keys map[int64]box.KeysBox
}

func newMetadataCollector() *metadataCollector {
	c := &metadataCollector{keys: make(map[int64]box.KeysBox)}
	for i := range c.values {
		c.values[i] = make(MetadataSet)
	}
	return c
}

func (c *metadataCollector) set(source int, key MetadataKey, value string) {
	value = strings.TrimRight(value, "\x00")
	if value == "" {
		return
	}
	if _, ok := c.values[source][key]; !ok {
		c.values[source][key] = value
	}
}

func (c *metadataCollector) setCover(source int, cover *CoverImage) {
	if cover != nil && c.covers[source] == nil {
		c.covers[source] = cover
	}
}

// addKeys remembers the mdta key table of the meta box at path's end.
func (c *metadataCollector) addKeys(path box.Path, keys box.KeysBox) {
	c.keys[path[len(path)-1].Offset] = keys
}

// addData handles one data box below meta/ilst/<item>.
func (c *metadataCollector) addData(path box.Path, payload []byte) error {
	if len(path) < 3 || path[len(path)-2].Type != box.TypeILST {
		return nil
	}
	item, meta := path[len(path)-1].Type, path[len(path)-3]
	var data box.DataBox
	if _, err := data.Decode(payload); err != nil {
		return err
	}
	if keys, ok := c.keys[meta.Offset]; ok {
		key, ok := keys.Lookup(item)
		if !ok || key.Namespace != box.TypeMDTA {
			return nil
		}
		if key.Value == mdtaArtwork {
			c.setCover(sourceKeys, newCover(data.Value, data.DataType))
			return nil
		}
		name, found := strings.CutPrefix(key.Value, mdtaPrefix)
		if k, known := mdtaKeys[name]; found && known {
			if text, ok := decodeDataText(&data); ok {
				c.set(sourceKeys, k, text)
			}
		}
		return nil
	}
	if item == box.TypeCOVR {
		c.setCover(sourceItunes, newCover(data.Value, data.DataType))
		return nil
	}
	if k, ok := itunesTags[item]; ok {
		if text, ok := decodeDataText(&data); ok {
			c.set(sourceItunes, k, text)
		}
	}
	return nil
}

// addUserData handles a QuickTime international text atom or an ISO copyright box
// directly under udta.
func (c *metadataCollector) addUserData(path box.Path, b *box.BasicBox, payload []byte) error {
	if path.Parent() != box.TypeUDTA {
		return nil
	}
	if b.Type == box.TypeCPRT {
		var cprt box.CopyrightBox
		if _, err := cprt.Decode(payload); err != nil {
			return err
		}
		c.set(sourceUserData, KeyCopyright, decodeNotice(cprt.Notice))
		return nil
	}
	k, ok := itunesTags[b.Type]
	if !ok {
		return nil
	}
	var text box.UserDataTextBox
	if _, err := text.Decode(payload); err != nil {
		return err
	}
	for _, s := range text {
		if value := decodeIntlString(s); value != "" {
			c.set(sourceUserData, k, value)
			break
		}
	}
	return nil
}

// result merges the sources, the first source carrying a key wins.
func (c *metadataCollector) result() (MetadataSet, *CoverImage) {
	merged := make(MetadataSet)
	for source := sourceCount - 1; source >= 0; source-- {
		maps.Copy(merged, c.values[source])
	}
	for _, cover := range c.covers {
		if cover != nil {
			return merged, cover
		}
	}
	return merged, nil
}

func decodeDataText(data *box.DataBox) (string, bool) {
	switch data.DataType {
	case box.DataTypeImplicit, box.DataTypeUTF8:
		return string(data.Value), true
	case box.DataTypeUTF16:
		return decodeUTF16(data.Value)
	}
	return "", false
}

func decodeUTF16(b []byte) (string, bool) {
	out, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder(), b)
	if err != nil {
		return "", false
	}
	return string(out), true
}

var utf16BOM = []byte{0xFE, 0xFF}

func decodeIntlString(s box.IntlString) string {
	if bytes.HasPrefix(s.Value, utf16BOM) {
		text, _ := decodeUTF16(s.Value)
		return text
	}
	if s.IsMacLanguage() {
		out, _, err := transform.Bytes(charmap.Macintosh.NewDecoder(), s.Value)
		if err != nil {
			return ""
		}
		return strings.TrimRight(string(out), "\x00")
	}
	return strings.TrimRight(string(s.Value), "\x00")
}

func decodeNotice(b []byte) string {
	if bytes.HasPrefix(b, utf16BOM) {
		text, _ := decodeUTF16(b)
		return strings.TrimRight(text, "\x00")
	}
	return strings.TrimRight(string(b), "\x00")
}

func (set MetadataSet) clone() MetadataSet {
	return maps.Clone(set)
}
