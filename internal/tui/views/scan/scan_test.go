package scan

import (
	"strings"
	"testing"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/scanner"
)

func TestViewEmpty(t *testing.T) {
	m := New()
	m.Width = 100
	v := m.View()
	for _, want := range []string{"SCAN", "frames", "point cloud", "mesh", "scene", "feedback"} {
		if !strings.Contains(v, want) {
			t.Errorf("empty view missing %q", want)
		}
	}
	if strings.Contains(v, "canceled") || strings.Contains(v, "last error") {
		t.Error("empty view should not show cancellation or errors")
	}
}

func TestLoadSnapshot(t *testing.T) {
	m := New()
	m.Width = 120
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.Load(scanner.Snapshot{
		State:        scanner.Viewing,
		Statistics:   &engine.FrameStats{SucceededCount: 40, LostTrackingCount: 2, ConsecutiveLostTrackingCount: 1},
		PointCloud:   &engine.PointCloud{ID: "pc-0123456789", PointCount: 4000},
		Mesh:         &engine.Mesh{Pass: 2, FaceCount: 300, VertexCount: 150},
		Cancellation: &scanner.Cancellation{Seq: 1, Source: scanner.CancelSourceEngine, At: at},
		Diagnostic:   &scanner.Diagnostic{Command: "finalize", Error: "no scene"},
	})

	v := m.View()
	for _, want := range []string{
		"40 ok", "2 lost (1 in a row)",
		"pc-01234", "4000 points",
		"pass 2", "300 faces",
		"#1 by engine at 03:04:05",
		"finalize: no scene",
	} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q in\n%s", want, v)
		}
	}
}

func TestPulseCounts(t *testing.T) {
	m := New()
	m.Width = 100
	now := time.Now()
	m.Pulse("selection", now)
	m.Pulse("selection", now)
	m.Pulse("success", now)

	if m.LastPulse != "success" {
		t.Errorf("LastPulse = %q, want success", m.LastPulse)
	}
	if m.Pulses["selection"] != 2 {
		t.Errorf("selection count = %d, want 2", m.Pulses["selection"])
	}
	if v := m.View(); !strings.Contains(v, "(2 selection ticks)") {
		t.Errorf("view should count selection ticks, got\n%s", v)
	}
}
