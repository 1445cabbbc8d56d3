// Package sqllint checks that every SQL string constant carries a unique
// "--sql <uuid>" marker on its first line. SQLRunner refuses unmarked
// queries at runtime; this catches them before they ship.
package sqllint

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	statementPattern = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with|create|alter|drop)\b`)
	markerPattern    = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Violation is one offending constant.
type Violation struct {
	File    string
	Line    int
	Name    string
	Message string
}

type marked struct {
	marker string
	v      Violation
}

// Lint walks targets (files or directories) and returns every violation,
// sorted by file and line. Hidden directories, vendor and testdata are skipped.
func Lint(targets ...string) ([]Violation, error) {
	if len(targets) == 0 {
		targets = []string{"."}
	}
	var (
		violations []Violation
		seen       []marked
	)
	visit := func(path string) error {
		vs, ms, err := lintFile(path)
		if err != nil {
			return err
		}
		violations = append(violations, vs...)
		seen = append(seen, ms...)
		return nil
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if isGoSource(target) {
				if err := visit(target); err != nil {
					return nil, err
				}
			}
			continue
		}
		err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
					return filepath.SkipDir
				}
				return nil
			}
			if !isGoSource(path) {
				return nil
			}
			return visit(path)
		})
		if err != nil {
			return nil, err
		}
	}

	violations = append(violations, duplicates(seen)...)
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	return violations, nil
}

func isGoSource(path string) bool {
	return filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go")
}

func lintFile(path string) ([]Violation, []marked, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return nil, nil, err
	}
	var (
		violations []Violation
		ms         []marked
	)
	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, value := range spec.Values {
			lit, ok := value.(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}
			raw, err := unquote(lit.Value)
			if err != nil || !looksLikeSQL(raw) {
				continue
			}
			v := Violation{File: path, Line: fset.Position(lit.Pos()).Line, Name: nameAt(spec.Names, i)}
			marker := firstLine(raw)
			if !markerPattern.MatchString(marker) {
				v.Message = "missing or invalid --sql <uuid> marker"
				violations = append(violations, v)
				continue
			}
			ms = append(ms, marked{marker: marker, v: v})
		}
		return true
	})
	return violations, ms, nil
}

// looksLikeSQL keeps prose constants out: a statement keyword must appear
// and the string must span lines or start with a marker.
func looksLikeSQL(s string) bool {
	if !statementPattern.MatchString(s) {
		return false
	}
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "--sql") || strings.Contains(trimmed, "\n")
}

func duplicates(ms []marked) []Violation {
	byMarker := make(map[string][]Violation)
	for _, m := range ms {
		byMarker[m.marker] = append(byMarker[m.marker], m.v)
	}
	var out []Violation
	for marker, vs := range byMarker {
		if len(vs) < 2 {
			continue
		}
		for _, v := range vs {
			v.Message = "duplicate marker " + strings.TrimPrefix(marker, "--sql ")
			out = append(out, v)
		}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) >= 2 && v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func nameAt(idents []*ast.Ident, i int) string {
	if i < len(idents) && idents[i] != nil {
		return idents[i].Name
	}
	return "_"
}
