package definition

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleWorkflowYAML = `
code: frps-private-beta
name: FRPS Private Beta
phases:
  - code: PRE_AWARD
    name: Pre award
    stages:
      - code: application-receipt
        name: Application Receipt
        statuses:
          - code: RECEIVED
            name: Received
            interactive: true
            transitions:
              - target_position: PRE_AWARD:review:IN_REVIEW
                check_tasks: true
                action:
                  code: approve-receipt
                  name: Approve receipt
        task_groups:
          - code: checks
            name: Checks
            tasks:
              - code: simple-review
                name: Simple review
                mandatory: true
      - code: review
        name: Review
        statuses:
          - code: IN_REVIEW
            name: In review
            interactive: true
`

func TestLoader_Parse(t *testing.T) {
	l := NewLoader()

	def, err := l.Parse([]byte(sampleWorkflowYAML), "inline")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if def.Code != "frps-private-beta" {
		t.Errorf("Code = %q", def.Code)
	}
	if def.Checksum == "" {
		t.Error("checksum not computed")
	}
	if def.StageCount() != 2 {
		t.Errorf("StageCount = %d, want 2", def.StageCount())
	}

	st, ok := def.FindStage("application-receipt")
	if !ok {
		t.Fatal("stage application-receipt not found")
	}
	if len(st.Statuses) != 1 || len(st.Statuses[0].Transitions) != 1 {
		t.Fatalf("unexpected stage shape: %+v", st)
	}
	tr := st.Statuses[0].Transitions[0]
	if !tr.CheckTasks {
		t.Error("check_tasks not decoded")
	}
	if tr.Action == nil || tr.Action.Code != "approve-receipt" {
		t.Errorf("action = %+v", tr.Action)
	}
}

func TestLoader_Parse_malformed(t *testing.T) {
	l := NewLoader()
	if _, err := l.Parse([]byte("code: [not: closed"), "inline"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoader_LoadAll(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "frps.yaml"), []byte(sampleWorkflowYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}

	defs, err := NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("LoadAll error: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("definitions = %d, want 1", len(defs))
	}
	if defs[0].SourceFile == "" {
		t.Error("source file not recorded")
	}
}
