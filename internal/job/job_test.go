package job

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStatus_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status Status
		want   string
	}{
		{StatusQueued, "QUEUED"},
		{StatusRunning, "RUNNING"},
		{StatusFinished, "FINISHED"},
		{StatusFailed, "FAILED"},
		{StatusCanceled, "CANCELED"},
		{Status(42), "Status(42)"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", int(tc.status), got, tc.want)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	t.Parallel()

	terminal := map[Status]bool{
		StatusQueued:   false,
		StatusRunning:  false,
		StatusFinished: true,
		StatusFailed:   true,
		StatusCanceled: true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestStatus_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(StatusRunning)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"RUNNING"` {
		t.Errorf("marshaled = %s", raw)
	}

	var s Status
	if err := json.Unmarshal([]byte(`"CANCELED"`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s != StatusCanceled {
		t.Errorf("status = %v, want CANCELED", s)
	}

	if err := json.Unmarshal([]byte(`"BOGUS"`), &s); err == nil {
		t.Error("expected error for unknown status name")
	}
}

func TestJob_SummaryCopiesArgs(t *testing.T) {
	t.Parallel()

	j := &Job{Name: "train", Args: []string{"python3", "train.py"}}
	sum := j.Summary()
	sum.Args[0] = "mutated"
	if j.Args[0] != "python3" {
		t.Error("Summary must not alias the job's args")
	}
}

func TestJob_OutputPaths(t *testing.T) {
	t.Parallel()

	j := &Job{OutputDir: "/data/jobs/abc"}
	if got := j.StdoutPath(); got != filepath.Join("/data/jobs/abc", StdoutFile) {
		t.Errorf("stdout path = %q", got)
	}
	if got := j.StderrPath(); got != filepath.Join("/data/jobs/abc", StderrFile) {
		t.Errorf("stderr path = %q", got)
	}
}

func TestNormalizeArgs_Empty(t *testing.T) {
	t.Parallel()

	if _, err := NormalizeArgs(nil, "", ""); !errors.Is(err, ErrNoArgs) {
		t.Errorf("err = %v, want ErrNoArgs", err)
	}
}

func TestNormalizeArgs_PythonScript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "train.py")
	if err := os.WriteFile(script, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NormalizeArgs([]string{"train.py", "--epochs", "5"}, dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"python3", script, "--epochs", "5"}
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeArgs_CustomInterpreter(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "train.py")
	if err := os.WriteFile(script, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NormalizeArgs([]string{script}, dir, "/opt/venv/bin/python")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != "/opt/venv/bin/python" {
		t.Errorf("interpreter = %q", got[0])
	}
}

func TestNormalizeArgs_MissingScript(t *testing.T) {
	t.Parallel()

	_, err := NormalizeArgs([]string{"missing.py"}, t.TempDir(), "")
	if err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestNormalizeArgs_NonScriptUntouched(t *testing.T) {
	t.Parallel()

	got, err := NormalizeArgs([]string{"echo", "does-not-exist.py.txt"}, t.TempDir(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != "echo" || got[1] != "does-not-exist.py.txt" {
		t.Errorf("args = %v", got)
	}
}

func TestNormalizeArgs_ShellScript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NormalizeArgs([]string{"run.sh"}, dir, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Shell scripts are resolved but get no interpreter prefix.
	if len(got) != 1 || got[0] != script {
		t.Errorf("args = %v, want [%s]", got, script)
	}
}
