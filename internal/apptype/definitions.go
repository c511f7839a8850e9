package apptype

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is a declarative application type loaded from YAML:
//
//	app_types:
//	  - name: ableton
//	    extensions: [".als"]
//	    tracked: ["*.als", "Samples"]
//	    ignored: ["Backup/", "*.asd"]
//	    metadata:
//	      - {key: bpm, label: BPM, kind: number}
type Definition struct {
	TypeName   string          `yaml:"name"`
	Extensions []string        `yaml:"extensions"`
	Tracked    []string        `yaml:"tracked"`
	Ignored    []string        `yaml:"ignored"`
	Metadata   []MetadataField `yaml:"metadata"`
}

type definitionsFile struct {
	AppTypes []Definition `yaml:"app_types"`
}

// Name implements Capability.
func (d Definition) Name() string { return d.TypeName }

// Detect reports whether root holds a file with one of the extensions, or
// is itself a bundle directory with one of them.
func (d Definition) Detect(root string) bool {
	for _, ext := range d.Extensions {
		if strings.EqualFold(filepath.Ext(root), ext) {
			return true
		}
		if len(filesWithExt(root, ext)) > 0 {
			return true
		}
	}
	return false
}

// TrackedPaths expands the tracked globs under root.
func (d Definition) TrackedPaths(root string) []string {
	var out []string
	for _, pattern := range d.Tracked {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if rel, err := filepath.Rel(root, m); err == nil {
				out = append(out, filepath.ToSlash(rel))
			}
		}
	}
	if len(out) == 0 {
		return []string{"."}
	}
	return out
}

func (d Definition) IgnoredPatterns() []string { return append([]string(nil), d.Ignored...) }

func (d Definition) MetadataSchema() []MetadataField {
	return append([]MetadataField(nil), d.Metadata...)
}

// ParseDefinitions decodes a YAML definitions document.
func ParseDefinitions(r io.Reader) ([]Definition, error) {
	var file definitionsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse application types: %w", err)
	}
	for i, def := range file.AppTypes {
		if strings.TrimSpace(def.TypeName) == "" {
			return nil, fmt.Errorf("app_types[%d]: name is required", i)
		}
		if len(def.Extensions) == 0 {
			return nil, fmt.Errorf("app_types[%d] (%s): at least one extension is required", i, def.TypeName)
		}
		for j, f := range def.Metadata {
			switch f.Kind {
			case FieldString, FieldNumber, FieldList:
			case "":
				file.AppTypes[i].Metadata[j].Kind = FieldString
			default:
				return nil, fmt.Errorf("app_types[%d] (%s): unknown metadata kind %q", i, def.TypeName, f.Kind)
			}
		}
	}
	return file.AppTypes, nil
}

// LoadDefinitions reads path and registers every definition into r.
// A missing file is not an error.
func (r *Registry) LoadDefinitions(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open application types: %w", err)
	}
	defer func() { _ = f.Close() }()

	defs, err := ParseDefinitions(f)
	if err != nil {
		return 0, err
	}
	for i, def := range defs {
		if err := r.Register(def); err != nil {
			return i, err
		}
	}
	return len(defs), nil
}
