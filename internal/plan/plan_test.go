package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/conductor/internal/state"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidPlan(t *testing.T) {
	path := writePlan(t, `
name: demo
tasks:
  - id: schema
    title: Design the schema
    priority: 1
  - id: api
    title: Build the API
    dependsOn: [schema]
    maxAttempts: 5
`)

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(p.Tasks))
	}

	tasks := p.Seed()
	if tasks[0].Status != state.StatusPending {
		t.Errorf("seeded status = %q, want pending", tasks[0].Status)
	}
	if tasks[0].Retries.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("default maxAttempts = %d, want %d", tasks[0].Retries.MaxAttempts, DefaultMaxAttempts)
	}
	if tasks[1].Retries.MaxAttempts != 5 {
		t.Errorf("explicit maxAttempts = %d, want 5", tasks[1].Retries.MaxAttempts)
	}
}

func TestLoadInvalidPlans(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		errContains string
	}{
		{
			name:        "empty task list",
			content:     "tasks: []\n",
			errContains: "no tasks",
		},
		{
			name: "duplicate id",
			content: `
tasks:
  - id: a
  - id: a
`,
			errContains: "duplicate",
		},
		{
			name: "unknown dependency",
			content: `
tasks:
  - id: a
    dependsOn: [ghost]
`,
			errContains: "unknown task",
		},
		{
			name: "self dependency",
			content: `
tasks:
  - id: a
    dependsOn: [a]
`,
			errContains: "depends on itself",
		},
		{
			name: "unsafe id",
			content: `
tasks:
  - id: "../escape"
`,
			errContains: "unsafe characters",
		},
		{
			name: "empty id",
			content: `
tasks:
  - title: no id here
`,
			errContains: "empty id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePlan(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q doesn't contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestSeedPreservesOrder(t *testing.T) {
	path := writePlan(t, `
tasks:
  - id: c
  - id: a
  - id: b
`)
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	got := p.Seed()
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("seed order[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
}
