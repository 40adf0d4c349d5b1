package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/milepost/pkg/domain/progress"
)

// runCLI executes a fresh command tree against the filesystem store in dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--storage-driver", "filesystem",
		"--storage-path", dir,
		"--log-level", "error",
	}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, dir, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

func decodeResult(t *testing.T, out string) resultView {
	t.Helper()
	var view resultView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return view
}

// seedBooking creates booking b-1 with one milestone holding one task.
func seedBooking(t *testing.T, dir string) (milestoneID, taskID string) {
	t.Helper()
	out := mustRun(t, dir, "booking", "create", "Team offsite", "--id", "b-1")
	if !strings.Contains(out, "Booking b-1 created.") {
		t.Fatalf("unexpected output: %s", out)
	}
	ms := decodeResult(t, mustRun(t, dir, "milestone", "create", "b-1", "--title", "Venue", "--weight", "2", "-o", "json"))
	if ms.Milestone == nil {
		t.Fatal("milestone missing from result")
	}
	task := decodeResult(t, mustRun(t, dir, "task", "create", ms.Milestone.ID, "--title", "Sign contract", "-o", "json"))
	if task.Task == nil || task.Task.Status != progress.StatusPending {
		t.Fatalf("unexpected task: %+v", task.Task)
	}
	return ms.Milestone.ID, task.Task.ID
}

func TestTaskUpdate_CascadesToBooking(t *testing.T) {
	dir := t.TempDir()
	milestoneID, taskID := seedBooking(t, dir)

	mustRun(t, dir, "task", "update", taskID, "--status", "in_progress")
	res := decodeResult(t, mustRun(t, dir, "task", "update", taskID, "--status", "completed", "-o", "json"))

	if res.Task.ProgressPercentage != 100 {
		t.Errorf("task progress = %d, want 100", res.Task.ProgressPercentage)
	}
	if res.Cascade == nil {
		t.Fatal("expected a cascade report")
	}
	if res.Cascade.MilestoneID != milestoneID || res.Cascade.MilestoneProgress != 100 {
		t.Errorf("milestone cascade = %+v", res.Cascade)
	}
	if res.Cascade.BookingProgress != 100 {
		t.Errorf("booking progress = %d, want 100", res.Cascade.BookingProgress)
	}

	out := mustRun(t, dir, "booking", "show", "b-1", "-o", "yaml")
	if !strings.Contains(out, "progress_percentage: 100") {
		t.Errorf("booking tree missing progress:\n%s", out)
	}

	out = mustRun(t, dir, "booking", "list")
	if !strings.Contains(out, "b-1") || !strings.Contains(out, "100%") {
		t.Errorf("booking list:\n%s", out)
	}
}

func TestTaskUpdate_RejectsInvalidTransition(t *testing.T) {
	dir := t.TempDir()
	_, taskID := seedBooking(t, dir)

	_, err := runCLI(t, dir, "task", "update", taskID, "--status", "completed")
	var cliErr *CLIError
	if !errors.As(err, &cliErr) {
		t.Fatalf("expected CLIError, got %v", err)
	}
	if !errors.Is(err, progress.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
	if !strings.Contains(cliErr.Hint, "in_progress") {
		t.Errorf("hint should list allowed targets: %q", cliErr.Hint)
	}

	task := mustRun(t, dir, "task", "show", taskID, "-o", "json")
	if !strings.Contains(task, `"status": "pending"`) {
		t.Errorf("rejected mutation must not write:\n%s", task)
	}
}

func TestTaskUpdate_UnknownStatus(t *testing.T) {
	dir := t.TempDir()
	_, taskID := seedBooking(t, dir)

	_, err := runCLI(t, dir, "task", "update", taskID, "--status", "done")
	if !errors.Is(err, progress.ErrInvalidChanges) {
		t.Fatalf("expected invalid changes, got %v", err)
	}
}

func TestMilestoneUpdate_ExplicitProgress(t *testing.T) {
	dir := t.TempDir()
	milestoneID, _ := seedBooking(t, dir)

	res := decodeResult(t, mustRun(t, dir, "milestone", "update", milestoneID, "--progress", "40", "-o", "json"))
	if res.Milestone.ProgressPercentage != 40 {
		t.Errorf("milestone progress = %d, want 40", res.Milestone.ProgressPercentage)
	}
	if res.Cascade == nil || res.Cascade.BookingProgress != 40 {
		t.Errorf("cascade = %+v, want booking 40", res.Cascade)
	}
}

func TestMilestoneDelete(t *testing.T) {
	dir := t.TempDir()
	milestoneID, taskID := seedBooking(t, dir)

	out := mustRun(t, dir, "milestone", "delete", milestoneID)
	if !strings.Contains(out, "deleted") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := runCLI(t, dir, "task", "show", taskID); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("task should be gone with its milestone, got %v", err)
	}
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	milestoneID, taskID := seedBooking(t, dir)

	doc := `{"mutations": [
  {"kind": "task", "id": "` + taskID + `", "changes": {"status": "in_progress", "progress_percentage": 50}},
  {"kind": "milestone", "id": "` + milestoneID + `", "changes": {"weight": 3}}
]}`
	file := filepath.Join(dir, "mutations.json")
	if err := os.WriteFile(file, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, dir, "apply", "-f", file)
	if strings.Count(out, "applied") != 2 {
		t.Errorf("expected two applied mutations:\n%s", out)
	}

	task := mustRun(t, dir, "task", "show", taskID, "-o", "json")
	if !strings.Contains(task, `"progress_percentage": 50`) {
		t.Errorf("explicit progress not stored:\n%s", task)
	}
}

func TestParseMutationDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{"valid", `{"mutations":[{"kind":"task","id":"t-1","changes":{"status":"completed"}}]}`, false},
		{"clear due", `{"mutations":[{"kind":"milestone","id":"m-1","changes":{"clear_due_at":true}}]}`, false},
		{"unknown status", `{"mutations":[{"kind":"task","id":"t-1","changes":{"status":"done"}}]}`, true},
		{"booking kind", `{"mutations":[{"kind":"booking","id":"b-1","changes":{}}]}`, true},
		{"progress out of range", `{"mutations":[{"kind":"task","id":"t-1","changes":{"progress_percentage":120}}]}`, true},
		{"unknown field", `{"mutations":[{"kind":"task","id":"t-1","changes":{"owner":"me"}}]}`, true},
		{"bad due date", `{"mutations":[{"kind":"task","id":"t-1","changes":{"due_at":"tomorrow"}}]}`, true},
		{"not json", `mutations: []`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseMutationDocument([]byte(tt.doc))
			if tt.wantErr {
				if !errors.Is(err, progress.ErrInvalidChanges) {
					t.Fatalf("expected invalid changes, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(doc.Mutations) != 1 {
				t.Errorf("got %d mutations", len(doc.Mutations))
			}
		})
	}
}

const fixtureYAML = `bookings:
  - id: conf-2026
    title: Conference
    milestones:
      - title: Venue
        weight: 3
        tasks:
          - title: Shortlist venues
            status: completed
          - title: Sign contract
            status: in_progress
      - title: Catering
        tasks:
          - title: Pick menu
`

func TestImport(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "fixture.yaml")
	if err := os.WriteFile(file, []byte(fixtureYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, dir, "import", "-f", file)
	if !strings.Contains(out, "Imported 1 bookings, 2 milestones, 3 tasks.") {
		t.Errorf("unexpected output: %s", out)
	}

	// Venue: 1 of 2 tasks completed -> 50, weight 3. Catering: 0, weight 1.
	// Booking: (50*3 + 0*1) / 4 = 37.5 -> 38.
	out = mustRun(t, dir, "booking", "show", "conf-2026", "-o", "json")
	if !strings.Contains(out, `"progress_percentage": 38`) {
		t.Errorf("booking progress not rolled up:\n%s", out)
	}

	if _, err := runCLI(t, dir, "import", "-f", file); !errors.Is(err, progress.ErrInvalidChanges) {
		t.Errorf("re-import should refuse an existing booking, got %v", err)
	}
}

func TestParseFixture_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseFixture([]byte("bookings:\n  - title: x\n    owner: me\n"))
	if !errors.Is(err, progress.ErrInvalidChanges) {
		t.Fatalf("expected invalid changes, got %v", err)
	}
	if _, err := ParseFixture([]byte("bookings: []\n")); err == nil {
		t.Fatal("expected empty fixture to be rejected")
	}
}

func TestRecomputeAll(t *testing.T) {
	dir := t.TempDir()
	seedBooking(t, dir)

	out := mustRun(t, dir, "booking", "recompute", "--all", "-o", "json")
	var reports []map[string]any
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(reports) != 1 || reports[0]["booking_id"] != "b-1" {
		t.Errorf("reports = %v", reports)
	}

	if _, err := runCLI(t, dir, "booking", "recompute", "missing"); !errors.Is(err, progress.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStatuses(t *testing.T) {
	out := mustRun(t, t.TempDir(), "statuses")
	for _, want := range []string{"pending", "in_progress", "on_hold", "completed", "cancelled"} {
		if !strings.Contains(out, want) {
			t.Errorf("statuses output missing %s:\n%s", want, out)
		}
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	out := mustRun(t, dir, "config", "init", "--dir", dir)
	if !strings.Contains(out, "milepost.yaml") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "milepost.yaml")); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, dir, "config", "init", "--dir", dir); err == nil {
		t.Error("second init should refuse to overwrite")
	}

	out = mustRun(t, dir, "config", "show")
	if !strings.Contains(out, "driver: filesystem") {
		t.Errorf("config show should reflect flags:\n%s", out)
	}
}

func TestDashboard_RendersBookings(t *testing.T) {
	t.Setenv("MILEPOST_SKIP_DASHBOARD_RUN", "true")
	dir := t.TempDir()
	seedBooking(t, dir)

	out := mustRun(t, dir, "dashboard")
	if !strings.Contains(out, "Team offsite") || !strings.Contains(out, "Venue") {
		t.Errorf("dashboard view missing rows:\n%s", out)
	}
}

func TestOutputFormat_Unknown(t *testing.T) {
	if _, err := runCLI(t, t.TempDir(), "statuses", "-o", "xml"); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestParseDue(t *testing.T) {
	got, err := parseDue("2026-03-01")
	if err != nil || got.Format("2006-01-02T15:04:05Z07:00") != "2026-03-01T00:00:00Z" {
		t.Errorf("date form = %v, %v", got, err)
	}
	got, err = parseDue("2026-03-01T17:00:00+02:00")
	if err != nil || got.Hour() != 15 {
		t.Errorf("rfc3339 form = %v, %v", got, err)
	}
	if _, err := parseDue("soon"); err == nil {
		t.Error("expected error")
	}
}

func TestHistory(t *testing.T) {
	dir := t.TempDir()
	_, taskID := seedBooking(t, dir)
	mustRun(t, dir, "task", "update", taskID, "--status", "in_progress")

	out := mustRun(t, dir, "history", "b-1")
	for _, want := range []string{"milestone.mutated", "booking.progress_updated"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %s:\n%s", want, out)
		}
	}

	out = mustRun(t, dir, "history", "--verify")
	if !strings.Contains(out, "Journal integrity OK.") {
		t.Errorf("unexpected verify output: %s", out)
	}

	out = mustRun(t, dir, "history", "--dead-letters")
	if !strings.Contains(out, "No failed deliveries.") {
		t.Errorf("unexpected dead letter output: %s", out)
	}
}
