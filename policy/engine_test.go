package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	decision, _, err := engine.Evaluate(ctx, Input{Action: "send", AgentID: "claude", TextLength: 12})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("expected allow, got %s", decision)
	}

	decision, reason, err := engine.Evaluate(ctx, Input{Action: "send", AgentID: "claude", TextLength: 200000})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionBlock {
		t.Fatalf("expected block, got %s", decision)
	}
	if reason == "" {
		t.Fatalf("expected a reason for the block")
	}

	decision, _, err = engine.Evaluate(ctx, Input{Action: "start", AgentID: "claude", TextLength: 200000})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionAllow {
		t.Fatalf("large start input should not be blocked, got %s", decision)
	}
}

func TestPolicyFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.rego")
	content := `
package dispatch_policy

default decision = "allow"

decision = "block" {
	input.action == "start"
	input.kind == "codex"
}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	engine, err := NewEngineFromFile(ctx, path)
	if err != nil {
		t.Fatalf("NewEngineFromFile failed: %v", err)
	}
	decision, _, err := engine.Evaluate(ctx, Input{Action: "start", Kind: "codex"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision != DecisionBlock {
		t.Fatalf("expected block, got %s", decision)
	}

	if _, err := NewEngine(ctx, "package broken\ndecision = {"); err == nil {
		t.Fatalf("expected error for invalid policy")
	}
}
