// Package manifest turns YAML fragment manifests into registered modules
// and keeps the registry in step with the manifest directory.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"github.com/alucardeht/mfhost/internal/fragment"
	"github.com/alucardeht/mfhost/internal/logger"
)

var log = logger.ForComponent("manifest")

type Kind string

const (
	KindNative Kind = "native"
	KindJS     Kind = "js"
)

// Entry describes one fragment.
type Entry struct {
	fragment.Descriptor `yaml:",inline"`
	fragment.JSOptions  `yaml:",inline"`

	// Kind is inferred from ScriptURL when empty.
	Kind    Kind  `yaml:"kind,omitempty"`
	Enabled *bool `yaml:"enabled,omitempty"`
	// Content is the markup of a native fragment.
	Content string `yaml:"content,omitempty"`
}

func (e Entry) ResolvedKind() Kind {
	if e.Kind != "" {
		return e.Kind
	}
	if e.ScriptURL != "" {
		return KindJS
	}
	return KindNative
}

// IsEnabled reports the manifest's own flag; fragments are enabled unless
// they say otherwise.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

type Manifest struct {
	Modules []Entry `yaml:"modules"`
}

// Parse decodes a manifest. UTF-8 and UTF-16 input with a byte order mark is
// accepted, as is Windows-1252 text without one.
func Parse(data []byte) (*Manifest, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return &m, nil
		}
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func decodeText(data []byte) ([]byte, error) {
	var decoder transform.Transformer = unicode.BOMOverride(unicode.UTF8.NewDecoder())
	if !hasBOM(data) && !utf8.Valid(data) {
		decoder = charmap.Windows1252.NewDecoder()
	}

	text, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return text, nil
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(data, []byte{0xFF, 0xFE}) ||
		bytes.HasPrefix(data, []byte{0xFE, 0xFF})
}
