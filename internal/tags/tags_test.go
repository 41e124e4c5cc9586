package tags

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil input", nil, nil},
		{"trims whitespace", []string{"  go  ", "sql"}, []string{"go", "sql"}},
		{"drops blanks", []string{"go", "", "   ", "sql"}, []string{"go", "sql"}},
		{"case-insensitive dedupe keeps first casing", []string{"Work", "work", "WORK"}, []string{"Work"}},
		{"preserves input order", []string{"b", "a", "c"}, []string{"b", "a", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	set := []string{"Go", "testing"}

	if !Contains(set, "go") {
		t.Error("Contains(set, go) = false, want true")
	}
	if !Contains(set, "  TESTING  ") {
		t.Error("Contains should trim and fold case")
	}
	if Contains(set, "test") {
		t.Error("Contains matched a substring, want exact name match only")
	}
	if Contains(nil, "go") {
		t.Error("Contains(nil, go) = true, want false")
	}
}

func TestFold(t *testing.T) {
	sets := [][]string{
		{"Go", "testing"},
		{"go", "sql"},
		{"GO"},
	}

	got := Fold(sets)
	want := []Count{
		{Name: "Go", Count: 3},
		{Name: "sql", Count: 1},
		{Name: "testing", Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Fold = %v, want %v", got, want)
	}
}

func TestFold_Empty(t *testing.T) {
	if got := Fold(nil); len(got) != 0 {
		t.Errorf("Fold(nil) = %v, want empty", got)
	}
}
