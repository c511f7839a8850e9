package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbacus/auxin/internal/apptype"
	"github.com/jbacus/auxin/internal/ignore"
)

type collector struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (c *collector) handle(ev ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ChangeEvent(nil), c.events...)
}

func (c *collector) waitFor(t *testing.T, match func(ChangeEvent) bool) ChangeEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event; got %+v", c.snapshot())
	return ChangeEvent{}
}

func newMonitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestMonitorDeliversChanges(t *testing.T) {
	root := t.TempDir()
	m := newMonitor(t)
	c := &collector{}
	if err := m.Add("p1", root, nil, c.handle); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	path := filepath.Join(root, "song.blend")
	if err := os.WriteFile(path, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}
	ev := c.waitFor(t, func(ev ChangeEvent) bool { return ev.Path == "song.blend" })
	if ev.ProjectID != "p1" {
		t.Errorf("ProjectID = %q, want p1", ev.ProjectID)
	}
	if ev.Kind != Created && ev.Kind != Modified {
		t.Errorf("Kind = %q, want created or modified", ev.Kind)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, func(ev ChangeEvent) bool { return ev.Path == "song.blend" && ev.Kind == Removed })
}

func TestMonitorWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	m := newMonitor(t)
	c := &collector{}
	if err := m.Add("p1", root, nil, c.handle); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(root, "textures")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, func(ev ChangeEvent) bool { return ev.Path == "textures" })

	// Give the loop a moment to register the new directory.
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "wood.png"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	c.waitFor(t, func(ev ChangeEvent) bool { return ev.Path == "textures/wood.png" })
}

func TestMonitorFiltersIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Bounces"), 0755); err != nil {
		t.Fatal(err)
	}
	matcher, err := ignore.New(apptype.LogicPro{}).Matcher()
	if err != nil {
		t.Fatal(err)
	}

	m := newMonitor(t)
	c := &collector{}
	if err := m.Add("logic", root, matcher, c.handle); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"Bounces/mix.wav", ".DS_Store", "render.tmp"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(200 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Errorf("ignored changes produced events: %+v", got)
	}
}

func TestMonitorRoutesByProject(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	m := newMonitor(t)
	ca, cb := &collector{}, &collector{}
	if err := m.Add("a", a, nil, ca.handle); err != nil {
		t.Fatal(err)
	}
	if err := m.Add("b", b, nil, cb.handle); err != nil {
		t.Fatal(err)
	}
	if err := m.Add("a", b, nil, ca.handle); err == nil {
		t.Error("duplicate project id should be rejected")
	}

	if err := os.WriteFile(filepath.Join(b, "only-b.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cb.waitFor(t, func(ev ChangeEvent) bool { return ev.Path == "only-b.txt" })
	for _, ev := range ca.snapshot() {
		if ev.Path == "only-b.txt" {
			t.Error("event routed to the wrong project")
		}
	}

	m.Remove("b")
	if got := m.Projects(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Projects() = %v, want [a]", got)
	}
}

func TestMonitorSurvivesHandlerPanic(t *testing.T) {
	root := t.TempDir()
	m := newMonitor(t)
	var calls atomic.Int32
	if err := m.Add("p", root, nil, func(ChangeEvent) {
		calls.Add(1)
		panic("boom")
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := os.WriteFile(filepath.Join(root, "f"), []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() < 2 {
		t.Errorf("handler called %d times; loop should survive panics", calls.Load())
	}
}

func TestAddRejectsFile(t *testing.T) {
	m := newMonitor(t)
	file := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.Add("p", file, nil, func(ChangeEvent) {}); err == nil {
		t.Error("expected error for non-directory root")
	}
}
