package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/netsec-simulator/internal/config"
	"github.com/signalsfoundry/netsec-simulator/internal/lesson"
	"github.com/signalsfoundry/netsec-simulator/kb"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const testScene = `
anchors:
  - {name: desktop-center, position: {x: 0, y: 0, z: 0}}
  - {name: firewall-center, position: {x: 3, y: 0, z: 0}}
  - name: server-center
    position: {x: 6, y: 0, z: 0}
    motion: {kind: patrol, from: {x: 6, y: 0, z: 0}, to: {x: 6, y: 0, z: 2}, period: 4}
`

const testLesson = `
id: handshake
steps:
  - id: syn
    hop: {packet_id: syn, from: desktop, to: firewall, travel: 0.5, hold_until: allow}
  - {id: allow, after_arrival: nothing-yet, fire: allow}
`

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-scene", "s.yaml", "-lesson", "l.yaml", "-duration", "5s", "-fps", "30", "-accelerated", "-watch"})
	if err != nil {
		t.Fatalf("parseFlags error: %v", err)
	}
	if opts.scenePath != "s.yaml" || opts.lessonPath != "l.yaml" || opts.duration != 5*time.Second ||
		opts.fps != 30 || !opts.accelerated || !opts.watch {
		t.Fatalf("unexpected options %+v", opts)
	}
	if _, err := parseFlags([]string{"-bogus"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "hopsim.toml", "[engine]\nfps = 24\n\n[scene]\nfile = \"from-file.yaml\"\n")

	cfg, err := loadConfig(options{configPath: cfgPath, scenePath: "from-flag.yaml"})
	if err != nil {
		t.Fatalf("loadConfig error: %v", err)
	}
	if cfg.Engine.FPS != 24 {
		t.Fatalf("fps = %d, want 24 from the file", cfg.Engine.FPS)
	}
	if cfg.Scene.File != "from-flag.yaml" {
		t.Fatalf("scene = %q, want the flag value", cfg.Scene.File)
	}

	if _, err := loadConfig(options{configPath: filepath.Join(dir, "missing.toml")}); err == nil {
		t.Fatalf("expected error for a missing config file")
	}
}

func TestRunCompletesLesson(t *testing.T) {
	dir := t.TempDir()
	scene := writeFile(t, dir, "scene.yaml", testScene)
	lessonPath := writeFile(t, dir, "lesson.yaml", `
id: handshake
steps:
  - id: syn
    hop: {packet_id: syn, label: SYN, from: desktop, to: firewall, travel: 0.5, hold_until: allow, hold_complete_signal: inspected}
  - {id: allow, on_signal: inspected, delay: 0.2, fire: allow}
  - id: forward
    after_arrival: syn
    hop: {packet_id: syn-fwd, from: firewall, to: server, travel: 0.5}
`)

	var out bytes.Buffer
	sum, err := run(context.Background(), options{
		scenePath:   scene,
		lessonPath:  lessonPath,
		duration:    time.Minute,
		fps:         60,
		accelerated: true,
	}, &out)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if sum.Lesson == nil {
		t.Fatalf("missing lesson result")
	}
	if got := strings.Join(sum.Lesson.Arrived, ","); got != "syn,syn-fwd" {
		t.Fatalf("arrived = %q, want syn,syn-fwd", got)
	}
	if sum.Stopped != 0 {
		t.Fatalf("force stopped %d hops after a completed lesson", sum.Stopped)
	}
	if sum.SimTime >= time.Minute {
		t.Fatalf("run used the whole duration (%v); lesson completion should stop it", sum.SimTime)
	}
	if !strings.Contains(out.String(), "lesson complete") {
		t.Fatalf("log output missing lesson completion:\n%s", out.String())
	}
}

func TestRunStopsAfterDurationAndForceStops(t *testing.T) {
	dir := t.TempDir()
	scene := writeFile(t, dir, "scene.yaml", testScene)
	lessonPath := writeFile(t, dir, "lesson.yaml", `
id: stuck
steps:
  - hop: {packet_id: parked, from: desktop, to: firewall, travel: 0.2, hold_until: never}
`)

	sum, err := run(context.Background(), options{
		scenePath:   scene,
		lessonPath:  lessonPath,
		duration:    2 * time.Second,
		fps:         50,
		accelerated: true,
	}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if sum.Frames != 100 {
		t.Fatalf("frames = %d, want 100", sum.Frames)
	}
	if sum.Stopped != 1 {
		t.Fatalf("force stopped = %d, want the parked hop", sum.Stopped)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := run(ctx, options{accelerated: true}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if sum.Lesson != nil {
		t.Fatalf("no lesson was configured")
	}
}

func TestRunRejectsInvalidInputs(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "lesson.yaml", testLesson)
	if _, err := run(context.Background(), options{lessonPath: bad, accelerated: true}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for a lesson waiting on an unknown packet")
	}
	if _, err := run(context.Background(), options{scenePath: filepath.Join(dir, "none.yaml")}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for a missing scene")
	}
}

func TestShippedConfigsLoad(t *testing.T) {
	root := filepath.Join("..", "..", "configs")
	if _, err := config.Load(filepath.Join(root, "hopsim.toml")); err != nil {
		t.Fatalf("hopsim.toml: %v", err)
	}
	spec, err := kb.LoadSceneFile(filepath.Join(root, "scene.yaml"))
	if err != nil {
		t.Fatalf("scene.yaml: %v", err)
	}
	if len(spec.Anchors) == 0 {
		t.Fatalf("scene.yaml has no anchors")
	}
	lessons, err := filepath.Glob(filepath.Join(root, "lessons", "*.yaml"))
	if err != nil || len(lessons) == 0 {
		t.Fatalf("no bundled lessons found (%v)", err)
	}
	for _, path := range lessons {
		if _, err := lesson.LoadFile(path); err != nil {
			t.Errorf("%s: %v", filepath.Base(path), err)
		}
	}
}
