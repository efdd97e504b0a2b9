package export

import (
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"strings"

	"github.com/InsulaLabs/ntmirror/models"
	"github.com/fxamacker/cbor/v2"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Recording is one finished recording session as written to disk.
type Recording struct {
	Session  string                          `json:"session" yaml:"session" cbor:"session"`
	Prefixes []string                        `json:"prefixes" yaml:"prefixes" cbor:"prefixes"`
	Started  string                          `json:"started" yaml:"started" cbor:"started"`
	Duration string                          `json:"duration" yaml:"duration" cbor:"duration"`
	Topics   map[string][]models.ValueRecord `json:"topics" yaml:"topics" cbor:"topics"`
}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("export: CBOR encoder initialization failed: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("export: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParseFormat accepts a format name in any case, and "yml" for YAML.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML, FormatCBOR:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", pkgerrors.Wrapf(ErrUnknownFormat, "%q", s)
}

// Extension is the file extension for f, without the dot.
func (f Format) Extension() string {
	return string(f)
}

func Write(w io.Writer, f Format, rec Recording) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return pkgerrors.Wrap(enc.Encode(rec), "encoding json")

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return pkgerrors.Wrap(err, "encoding yaml")
		}
		return pkgerrors.Wrap(enc.Close(), "encoding yaml")

	case FormatCBOR:
		return pkgerrors.Wrap(cborEncMode.NewEncoder(w).Encode(rec), "encoding cbor")
	}
	return pkgerrors.Wrapf(ErrUnknownFormat, "%q", f)
}

// Read decodes a recording written by Write. Values come back in the
// decoder's generic shapes, so an int[] written as []int64 may read back as
// []any.
func Read(r io.Reader, f Format) (Recording, error) {
	var rec Recording
	var err error
	switch f {
	case FormatJSON:
		err = pkgerrors.Wrap(json.NewDecoder(r).Decode(&rec), "decoding json")
	case FormatYAML:
		err = pkgerrors.Wrap(yaml.NewDecoder(r).Decode(&rec), "decoding yaml")
	case FormatCBOR:
		err = pkgerrors.Wrap(cborDecMode.NewDecoder(r).Decode(&rec), "decoding cbor")
	default:
		err = pkgerrors.Wrapf(ErrUnknownFormat, "%q", f)
	}
	return rec, err
}
