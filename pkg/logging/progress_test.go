package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestProgressTracker_Counts(t *testing.T) {
	pt := NewProgressTracker(PhaseFetch, 10, zerolog.New(&bytes.Buffer{}))

	pt.RecordCompletion(100*time.Millisecond, 1000)
	pt.RecordCompletion(150*time.Millisecond, 1000)
	pt.RecordFailure()

	completed, failed, total := pt.Progress()
	if completed != 2 || failed != 1 || total != 10 {
		t.Errorf("Progress() = (%d, %d, %d), want (2, 1, 10)", completed, failed, total)
	}
	if got := pt.Records(); got != 2000 {
		t.Errorf("Records() = %d, want 2000", got)
	}
	if pct := pt.ProgressPct(); pct != 30.0 {
		t.Errorf("ProgressPct() = %.1f, want 30.0", pct)
	}
}

func TestProgressTracker_ETA(t *testing.T) {
	pt := NewProgressTracker(PhaseFetch, 10, zerolog.New(&bytes.Buffer{}))
	pt.RecordCompletion(100*time.Millisecond, 1)
	pt.RecordCompletion(100*time.Millisecond, 1)

	eta := pt.ETA()
	if eta < 700*time.Millisecond || eta > 900*time.Millisecond {
		t.Errorf("ETA() = %v, want ~800ms", eta)
	}
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	pt := NewProgressTracker(PhaseFetch, 0, zerolog.New(&bytes.Buffer{}))
	if pct := pt.ProgressPct(); pct != 100.0 {
		t.Errorf("ProgressPct() = %.1f, want 100", pct)
	}
	if eta := pt.ETA(); eta != 0 {
		t.Errorf("ETA() = %v, want 0", eta)
	}
}

func TestProgressTracker_ReportThrottled(t *testing.T) {
	var buf bytes.Buffer
	pt := NewProgressTracker(PhaseFetch, 3, zerolog.New(&buf))
	pt.SetReportInterval(time.Hour)

	pt.RecordCompletion(time.Millisecond, 1)
	pt.Report("pages")
	pt.RecordCompletion(time.Millisecond, 1)
	pt.Report("pages")
	pt.RecordCompletion(time.Millisecond, 1)
	pt.Report("pages")

	// First call reports, second is throttled, final unit always reports.
	if n := strings.Count(buf.String(), `"event":"progress"`); n != 2 {
		t.Errorf("progress lines = %d, want 2\n%s", n, buf.String())
	}
}

func TestCompletionEvent_BoolAndBytes(t *testing.T) {
	defer Init(false, false)
	for _, tc := range []struct {
		human bool
		want  []string
		deny  []string
	}{
		{human: false, want: []string{`"replaced":true`, `"bytes":2048`}, deny: []string{`"bytes_h"`}},
		{human: true, want: []string{`"replaced":true`, `"bytes":2048`, `"bytes_h":"2.00 KiB"`}},
	} {
		Init(false, tc.human)
		var buf bytes.Buffer
		PhaseComplete(zerolog.New(&buf), PhaseExport, time.Second).
			Bool("replaced", true).
			Bytes("bytes", 2048).
			Log("exported")

		out := buf.String()
		for _, want := range tc.want {
			if !strings.Contains(out, want) {
				t.Errorf("human=%v: missing %s in %s", tc.human, want, out)
			}
		}
		for _, deny := range tc.deny {
			if strings.Contains(out, deny) {
				t.Errorf("human=%v: unexpected %s in %s", tc.human, deny, out)
			}
		}
	}
}

func TestCompletionEvent_Fields(t *testing.T) {
	var buf bytes.Buffer
	RebuildComplete(zerolog.New(&buf), 1500*time.Millisecond).
		Str("table", "open_fiscal").
		Count("rows", 42).
		Log("rebuilt")

	out := buf.String()
	for _, want := range []string{
		`"event":"rebuild_completed"`,
		`"phase":"materialize"`,
		`"duration_ms":1500`,
		`"table":"open_fiscal"`,
		`"rows":42`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}
