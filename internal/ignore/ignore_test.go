package ignore

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/jbacus/auxin/internal/apptype"
)

func TestPolicyPatterns(t *testing.T) {
	p := New(apptype.LogicPro{}, "Stems/", ".DS_Store")
	patterns := p.Patterns()

	if patterns[0] != ".DS_Store" {
		t.Errorf("base patterns should come first, got %q", patterns[0])
	}
	count := 0
	for _, pat := range patterns {
		if pat == ".DS_Store" {
			count++
		}
	}
	if count != 1 {
		t.Errorf(".DS_Store appears %d times, want 1", count)
	}
	if patterns[len(patterns)-1] != "Stems/" {
		t.Errorf("custom patterns should come last, got %v", patterns)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	a := New(apptype.Blender{}).Render()
	b := New(apptype.Blender{}).Render()
	if a != b {
		t.Fatal("Render() output differs between calls")
	}
	for _, want := range []string{"# System files", "# Application: blender", "*.blend1"} {
		if !strings.Contains(a, want) {
			t.Errorf("Render() missing %q", want)
		}
	}
	if strings.Contains(a, "# Custom") {
		t.Error("empty custom section should be omitted")
	}
}

func TestRenderParseRoundTrip(t *testing.T) {
	p := New(apptype.SketchUp{}, "drafts/")
	parsed, err := Parse(strings.NewReader(p.Render()))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := p.Patterns()
	if len(parsed) != len(want) {
		t.Fatalf("Parse() returned %d patterns, want %d", len(parsed), len(want))
	}
	for i := range want {
		if parsed[i] != want[i] {
			t.Errorf("pattern %d = %q, want %q", i, parsed[i], want[i])
		}
	}
}

func TestParseRejectsNegation(t *testing.T) {
	if _, err := Parse(strings.NewReader("*.tmp\n!keep.tmp\n")); err == nil {
		t.Error("expected negated pattern to be rejected")
	}
}

func TestMatcher(t *testing.T) {
	m, err := New(apptype.LogicPro{}, "/Mixdowns/*.wav").Matcher()
	if err != nil {
		t.Fatalf("Matcher() error = %v", err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"Alternatives/000/ProjectData", false},
		{"Bounces/final.wav", true},
		{"Alternatives/000/Autosave/x", true},
		{"Freeze Files/track1.aif", true},
		{".DS_Store", true},
		{"Resources/.DS_Store", true},
		{"Audio Files/take.nosync", true},
		{"render.tmp", true},
		{"Mixdowns/a.wav", true},
		{"Mixdowns/keep/a.wav", false},
		{"Other/Mixdowns/a.wav", false},
		{".git/index.lock", true},
		{".auxin/state.json", true},
		{"sub/.oxen/x", true},
		{".", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchRuleReportsPattern(t *testing.T) {
	m, err := NewMatcher([]string{"renders/"})
	if err != nil {
		t.Fatal(err)
	}
	rule, ok := m.MatchRule("renders/frame_001.png")
	if !ok || rule != "renders/" {
		t.Errorf("MatchRule() = %q, %v", rule, ok)
	}
}

func TestNilMatcherStillIgnoresEngineDirs(t *testing.T) {
	var m *Matcher
	if !m.Match(".git/HEAD") {
		t.Error(".git must always be ignored")
	}
	if m.Match("song.blend") {
		t.Error("nil matcher should not ignore regular files")
	}
}

func TestWriteFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	p := New(apptype.Blender{}, "scratch/")

	changed, err := WriteFile(fs, "/proj", "", p)
	if err != nil || !changed {
		t.Fatalf("first WriteFile() = %v, %v", changed, err)
	}
	changed, err = WriteFile(fs, "/proj", "", p)
	if err != nil || changed {
		t.Fatalf("second WriteFile() = %v, %v; want unchanged", changed, err)
	}

	data, err := afero.ReadFile(fs, "/proj/.gitignore")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != p.Render() {
		t.Error("file contents differ from Render()")
	}
	if exists, _ := afero.Exists(fs, "/proj/.gitignore.tmp"); exists {
		t.Error("temp file left behind")
	}
}

func TestLoadMergesOnDiskPatterns(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/proj/.gitignore", []byte("# mine\nsecret.txt\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(fs, "/proj", New(apptype.Generic{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !m.Match("secret.txt") || !m.Match("a.tmp") {
		t.Error("expected on-disk and base patterns to apply")
	}

	m, err = Load(fs, "/empty", New(apptype.Generic{}))
	if err != nil || m.Len() == 0 {
		t.Errorf("missing ignore file should yield base rules, got %d, %v", m.Len(), err)
	}
}
