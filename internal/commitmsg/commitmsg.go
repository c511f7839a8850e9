// Package commitmsg builds and parses auxin commit messages.
//
// Automatic commits carry a short label. Milestone commits carry a free-form
// message followed by a block of "Label: value" trailers, one per metadata
// field the project's application type declares:
//
//	Final mix
//
//	BPM: 120
//	Sample Rate: 48000 Hz
//	Key: A minor
//	Tags: mix, final
package commitmsg

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jbacus/auxin/internal/apptype"
	auxerrors "github.com/jbacus/auxin/internal/errors"
)

// Well-known metadata keys with typed fields on Metadata.
const (
	KeyBPM          = "bpm"
	KeySampleRate   = "sample_rate"
	KeyKeySignature = "key_signature"
	KeyTags         = "tags"
)

// Reason says what triggered an automatic commit.
type Reason string

const (
	ReasonSettled Reason = "settled"
	ReasonPower   Reason = "power"
	ReasonManual  Reason = "manual"
	ReasonReplay  Reason = "replay"
)

// AutoLabel returns the message for an automatic draft commit.
func AutoLabel(reason Reason, at time.Time) string {
	stamp := at.UTC().Format("2006-01-02 15:04:05Z")
	switch reason {
	case ReasonPower:
		return "Auto-save before sleep " + stamp
	case ReasonManual:
		return "Snapshot " + stamp
	case ReasonReplay:
		return "Auto-save (replayed) " + stamp
	default:
		return "Auto-save " + stamp
	}
}

// IsAutomatic reports whether subject was produced by AutoLabel.
func IsAutomatic(subject string) bool {
	return strings.HasPrefix(subject, "Auto-save ") || strings.HasPrefix(subject, "Snapshot ")
}

// Metadata is the structured content of a milestone commit.
type Metadata struct {
	Message      string            `json:"message" yaml:"message"`
	BPM          float64           `json:"bpm,omitempty" yaml:"bpm,omitempty"`
	SampleRate   int               `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	KeySignature string            `json:"key_signature,omitempty" yaml:"key_signature,omitempty"`
	Tags         []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Fields       map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// value returns the rendered value of key, or "" when unset.
func (m Metadata) value(key string) string {
	switch key {
	case KeyBPM:
		if m.BPM == 0 {
			return ""
		}
		return strconv.FormatFloat(m.BPM, 'f', -1, 64)
	case KeySampleRate:
		if m.SampleRate == 0 {
			return ""
		}
		return strconv.Itoa(m.SampleRate)
	case KeyKeySignature:
		return m.KeySignature
	case KeyTags:
		return strings.Join(m.Tags, ", ")
	default:
		return m.Fields[key]
	}
}

// set stores a raw trailer value. Unparseable numbers are skipped.
func (m *Metadata) set(f apptype.MetadataField, raw string) {
	switch f.Key {
	case KeyBPM:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			m.BPM = v
		}
	case KeySampleRate:
		if v, err := strconv.Atoi(raw); err == nil {
			m.SampleRate = v
		}
	case KeyKeySignature:
		m.KeySignature = raw
	case KeyTags:
		m.Tags = splitList(raw)
	default:
		if m.Fields == nil {
			m.Fields = make(map[string]string)
		}
		if f.Kind == apptype.FieldList {
			raw = strings.Join(splitList(raw), ", ")
		}
		m.Fields[f.Key] = raw
	}
}

// Validate checks m against schema.
func (m Metadata) Validate(schema []apptype.MetadataField) error {
	if strings.TrimSpace(m.Message) == "" {
		return auxerrors.NewValidationError("milestone message is required").WithField("message")
	}
	known := make(map[string]apptype.MetadataField, len(schema))
	for _, f := range schema {
		known[f.Key] = f
	}
	check := func(key string, set bool) error {
		if set {
			if _, ok := known[key]; !ok {
				return auxerrors.NewValidationError("field not supported by this project type").WithField(key)
			}
		}
		return nil
	}
	if err := check(KeyBPM, m.BPM != 0); err != nil {
		return err
	}
	if err := check(KeySampleRate, m.SampleRate != 0); err != nil {
		return err
	}
	if err := check(KeyKeySignature, m.KeySignature != ""); err != nil {
		return err
	}
	if err := check(KeyTags, len(m.Tags) > 0); err != nil {
		return err
	}
	if m.BPM < 0 || m.BPM > 999 {
		return auxerrors.NewValidationError("bpm must be between 0 and 999").WithField(KeyBPM).WithValue(m.BPM)
	}
	if m.SampleRate < 0 {
		return auxerrors.NewValidationError("sample rate must be positive").WithField(KeySampleRate).WithValue(m.SampleRate)
	}
	for _, key := range slices.Sorted(maps.Keys(m.Fields)) {
		f, ok := known[key]
		if !ok {
			return auxerrors.NewValidationError("field not supported by this project type").WithField(key)
		}
		if f.Kind == apptype.FieldNumber {
			if _, err := strconv.ParseFloat(m.Fields[key], 64); err != nil {
				return auxerrors.NewValidationError("must be a number").WithField(key).WithValue(m.Fields[key])
			}
		}
	}
	return nil
}

// Format renders m as a commit message. Trailers follow schema order and
// unset fields are omitted.
func Format(m Metadata, schema []apptype.MetadataField) string {
	var trailers []string
	for _, f := range schema {
		v := m.value(f.Key)
		if v == "" {
			continue
		}
		if f.Unit != "" {
			v += " " + f.Unit
		}
		trailers = append(trailers, fmt.Sprintf("%s: %s", f.Label, v))
	}

	msg := strings.TrimSpace(m.Message)
	if len(trailers) == 0 {
		return msg
	}
	return msg + "\n\n" + strings.Join(trailers, "\n")
}

// Parse extracts Metadata from a commit message. Lines before the first
// recognized trailer form the message; unrecognized lines after it are
// dropped.
func Parse(message string, schema []apptype.MetadataField) Metadata {
	var m Metadata
	var body []string
	inTrailers := false

	for _, line := range strings.Split(message, "\n") {
		trimmed := strings.TrimSpace(line)
		if f, raw, ok := matchTrailer(trimmed, schema); ok {
			inTrailers = true
			m.set(f, raw)
			continue
		}
		if !inTrailers && trimmed != "" {
			body = append(body, trimmed)
		}
	}
	m.Message = strings.Join(body, "\n")
	return m
}

func matchTrailer(line string, schema []apptype.MetadataField) (apptype.MetadataField, string, bool) {
	label, raw, ok := strings.Cut(line, ":")
	if !ok {
		return apptype.MetadataField{}, "", false
	}
	for _, f := range schema {
		if !strings.EqualFold(strings.TrimSpace(label), f.Label) {
			continue
		}
		raw = strings.TrimSpace(raw)
		if f.Unit != "" {
			raw = strings.TrimSpace(strings.TrimSuffix(raw, f.Unit))
		}
		return f, raw, true
	}
	return apptype.MetadataField{}, "", false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
