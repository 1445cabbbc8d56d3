package sqllint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRepositoryQueriesAreMarked(t *testing.T) {
	violations, err := Lint(filepath.Join("..", "..", "sqlinline"))
	if err != nil {
		t.Fatalf("Lint error: %v", err)
	}
	for _, v := range violations {
		t.Errorf("%s:%d %s: %s", v.File, v.Line, v.Name, v.Message)
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintReportsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q.go", "package q\n\nconst QBad = `\nselect 1\nfrom t\n`\n\n"+
		"const QGood = `--sql 0b9c7f3e-52d1-4a8e-9d55-3f1e6a2c8b47\nselect 1;\n`\n\n"+
		"const greeting = \"please select a plan\"\n")

	violations, err := Lint(dir)
	if err != nil {
		t.Fatalf("Lint error: %v", err)
	}
	if len(violations) != 1 {
		t.Fatalf("expected one violation, got %+v", violations)
	}
	if violations[0].Name != "QBad" || violations[0].Line != 3 {
		t.Fatalf("unexpected violation: %+v", violations[0])
	}
}

func TestLintReportsDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	marker := "--sql 11111111-2222-4333-8444-555555555555"
	writeFile(t, dir, "a.go", "package q\n\nconst QA = `"+marker+"\ndelete from t;\n`\n")
	writeFile(t, dir, "b.go", "package q\n\nconst QB = `"+marker+"\ncreate table t (id int);\n`\n")

	violations, err := Lint(dir)
	if err != nil {
		t.Fatalf("Lint error: %v", err)
	}
	if len(violations) != 2 {
		t.Fatalf("expected two violations, got %+v", violations)
	}
	for _, v := range violations {
		if !strings.HasPrefix(v.Message, "duplicate marker") {
			t.Fatalf("unexpected message: %+v", v)
		}
	}
}

func TestLintSkipsTestsAndHiddenDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "q_test.go", "package q\n\nconst QBad = `\nselect 1\nfrom t\n`\n")
	hidden := filepath.Join(dir, ".cache")
	if err := os.Mkdir(hidden, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, hidden, "q.go", "package q\n\nconst QBad = `\nselect 1\nfrom t\n`\n")

	violations, err := Lint(dir)
	if err != nil || len(violations) != 0 {
		t.Fatalf("Lint = %+v, %v", violations, err)
	}
}
