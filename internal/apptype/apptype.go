// Package apptype describes the creative applications whose projects auxin
// can version. Each application contributes a Capability: how to recognize
// its projects, which paths to stage, which paths to ignore and which
// structured metadata a milestone commit may carry.
package apptype

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FieldKind is the value type of a metadata field.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldList   FieldKind = "list"
)

// MetadataField describes one structured field of a milestone commit.
type MetadataField struct {
	Key   string    `yaml:"key" json:"key"`
	Label string    `yaml:"label" json:"label"`
	Kind  FieldKind `yaml:"kind" json:"kind"`
	Unit  string    `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// Capability is implemented once per application type.
type Capability interface {
	// Name is the registry key, e.g. "logic".
	Name() string
	// Detect reports whether root is a project of this type.
	Detect(root string) bool
	// TrackedPaths returns root-relative paths to stage on commit.
	TrackedPaths(root string) []string
	// IgnoredPatterns returns the application's ignore extension set.
	IgnoredPatterns() []string
	// MetadataSchema returns the fields a milestone commit may carry.
	MetadataSchema() []MetadataField
}

// tagsField is shared by every schema.
var tagsField = MetadataField{Key: "tags", Label: "Tags", Kind: FieldList}

// existing filters rel paths to those present under root, falling back to
// the whole tree when none exist.
func existing(root string, rel ...string) []string {
	var out []string
	for _, p := range rel {
		if _, err := os.Stat(filepath.Join(root, p)); err == nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"."}
	}
	return out
}

// filesWithExt lists root-level files with the given extension, sorted.
func filesWithExt(root, ext string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.EqualFold(filepath.Ext(name), ext) && !strings.HasPrefix(name, ".") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// -----------------------------------------------------------------------------
// Logic Pro
// -----------------------------------------------------------------------------

// LogicPro recognizes .logicx folder bundles.
type LogicPro struct{}

func (LogicPro) Name() string { return "logic" }

// Detect accepts a .logicx directory, or any directory holding Logic's
// ProjectData either at the root or under Alternatives/NNN/.
func (LogicPro) Detect(root string) bool {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	if strings.EqualFold(filepath.Ext(root), ".logicx") {
		return true
	}
	if _, err := os.Stat(filepath.Join(root, "ProjectData")); err == nil {
		return true
	}
	matches, _ := filepath.Glob(filepath.Join(root, "Alternatives", "*", "ProjectData"))
	return len(matches) > 0
}

func (LogicPro) TrackedPaths(root string) []string {
	return existing(root, "Alternatives", "Resources", "ProjectData")
}

func (LogicPro) IgnoredPatterns() []string {
	return []string{
		"Bounces/",
		"Freeze Files/",
		"Autosave/",
		"Media.localized/",
		"*.nosync",
	}
}

func (LogicPro) MetadataSchema() []MetadataField {
	return []MetadataField{
		{Key: "bpm", Label: "BPM", Kind: FieldNumber},
		{Key: "sample_rate", Label: "Sample Rate", Kind: FieldNumber, Unit: "Hz"},
		{Key: "key_signature", Label: "Key", Kind: FieldString},
		tagsField,
	}
}

// -----------------------------------------------------------------------------
// SketchUp
// -----------------------------------------------------------------------------

// SketchUp recognizes directories containing .skp models.
type SketchUp struct{}

func (SketchUp) Name() string { return "sketchup" }

func (SketchUp) Detect(root string) bool {
	return len(filesWithExt(root, ".skp")) > 0
}

func (SketchUp) TrackedPaths(root string) []string {
	paths := filesWithExt(root, ".skp")
	for _, dir := range []string{"textures", "materials", "components"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err == nil && info.IsDir() {
			paths = append(paths, dir)
		}
	}
	if len(paths) == 0 {
		return []string{"."}
	}
	return paths
}

func (SketchUp) IgnoredPatterns() []string {
	return []string{
		"*.skb",
		"*~.skp",
		"*.swp",
		".sketchup_session",
		"exports/",
		"renders/",
		"output/",
		".thumbnails/",
		"cache/",
	}
}

func (SketchUp) MetadataSchema() []MetadataField {
	return []MetadataField{
		{Key: "sketchup_version", Label: "SketchUp Version", Kind: FieldString},
		{Key: "units", Label: "Units", Kind: FieldString},
		{Key: "scene", Label: "Scene", Kind: FieldString},
		tagsField,
	}
}

// -----------------------------------------------------------------------------
// Blender
// -----------------------------------------------------------------------------

// Blender recognizes directories containing .blend files.
type Blender struct{}

func (Blender) Name() string { return "blender" }

func (Blender) Detect(root string) bool {
	return len(filesWithExt(root, ".blend")) > 0
}

func (Blender) TrackedPaths(root string) []string {
	paths := filesWithExt(root, ".blend")
	for _, dir := range []string{"textures", "assets", "scripts"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err == nil && info.IsDir() {
			paths = append(paths, dir)
		}
	}
	if len(paths) == 0 {
		return []string{"."}
	}
	return paths
}

func (Blender) IgnoredPatterns() []string {
	return []string{
		"*.blend1",
		"*.blend2",
		"*.blend@",
		"blendcache_*/",
		"__pycache__/",
		"*.pyc",
		"renders/",
		"render_output/",
		"tmp/",
		"build/",
		"dist/",
		"*.crash.txt",
		"*.autosave",
	}
}

func (Blender) MetadataSchema() []MetadataField {
	return []MetadataField{
		{Key: "blender_version", Label: "Blender Version", Kind: FieldString},
		{Key: "render_engine", Label: "Render Engine", Kind: FieldString},
		{Key: "frame_range", Label: "Frames", Kind: FieldString},
		tagsField,
	}
}

// -----------------------------------------------------------------------------
// Generic
// -----------------------------------------------------------------------------

// Generic accepts any directory and stages the whole tree.
type Generic struct{}

func (Generic) Name() string                      { return "generic" }
func (Generic) Detect(root string) bool           { return true }
func (Generic) TrackedPaths(root string) []string { return []string{"."} }
func (Generic) IgnoredPatterns() []string         { return nil }
func (Generic) MetadataSchema() []MetadataField   { return []MetadataField{tagsField} }
