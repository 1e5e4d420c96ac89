package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"finagent/internal/domain"
)

// isolate points the data file and config at a temp dir so commands never
// touch the user's home.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FINAGENT_KNOWLEDGE_PATH", filepath.Join(dir, "finagent.db"))
	t.Setenv("FINAGENT_LOGGER_LEVEL", "error")
	t.Setenv("FINAGENT_CONFIG_KEY", "")
	return filepath.Join(dir, "finagent.yaml")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := buildRootCmd()
	want := map[string]bool{"serve": false, "ask": false, "kb": false, "tools": false, "doctor": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestAskCmd_RequiresQuestion(t *testing.T) {
	cfgPath := isolate(t)
	if _, err := execute(t, "--config", cfgPath, "ask"); err == nil {
		t.Fatal("expected error without a question")
	}
}

func TestToolsCmd(t *testing.T) {
	cfgPath := isolate(t)

	out, err := execute(t, "--config", cfgPath, "tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	for _, name := range []string{
		"financial_score", "compare_stocks", "price_history", "technical_indicators",
		"dividend_analysis", "company_profile", "stock_news", "earnings_calendar",
		"web_search", "kb_read", "kb_write",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("catalog missing %s:\n%s", name, out)
		}
	}
}

func TestToolsCmd_JSON(t *testing.T) {
	cfgPath := isolate(t)

	out, err := execute(t, "--config", cfgPath, "tools", "--json")
	if err != nil {
		t.Fatalf("tools --json: %v", err)
	}
	var schemas []domain.ToolSchema
	if err := json.Unmarshal([]byte(out), &schemas); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(schemas) != 11 {
		t.Errorf("got %d schemas, want 11", len(schemas))
	}
	for _, s := range schemas {
		if !json.Valid(s.Parameters) {
			t.Errorf("%s: parameters are not valid JSON", s.Name)
		}
	}
}

func TestKBListCmd_Empty(t *testing.T) {
	cfgPath := isolate(t)

	out, err := execute(t, "--config", cfgPath, "kb", "list")
	if err != nil {
		t.Fatalf("kb list: %v", err)
	}
	if !strings.Contains(out, "0 snippet(s)") {
		t.Errorf("output = %q", out)
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n  b\tc"); got != "a b c" {
		t.Errorf("oneLine collapse = %q", got)
	}
	long := strings.Repeat("x", 150)
	got := oneLine(long)
	if len(got) != 100 || !strings.HasSuffix(got, "...") {
		t.Errorf("oneLine truncate = %d chars", len(got))
	}
}
