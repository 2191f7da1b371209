package filter

import (
	"reflect"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	jan1 := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	tests := []struct {
		name       string
		filter     string
		wantClause string
		wantParams []any
	}{
		{name: "blank", filter: "  "},
		{
			name:       "string equality",
			filter:     `type_of = "cron"`,
			wantClause: "type_of = ?",
			wantParams: []any{"cron"},
		},
		{
			name:       "pull number",
			filter:     `pull_nb >= 100`,
			wantClause: "pull_nb_int >= ?",
			wantParams: []any{int64(100)},
		},
		{
			name:       "timestamp",
			filter:     `started_at > timestamp("2023-01-01T00:00:00Z")`,
			wantClause: "started_at_ms > ?",
			wantParams: []any{jan1},
		},
		{
			name:       "and",
			filter:     `type_of = "cron" AND golang_version = "1.20"`,
			wantClause: "(type_of = ? AND golang_version = ?)",
			wantParams: []any{"cron", "1.20"},
		},
		{
			name:       "or",
			filter:     `git_ref = "abc" OR uuid = "u-1"`,
			wantClause: "(git_ref = ? OR uuid = ?)",
			wantParams: []any{"abc", "u-1"},
		},
		{
			name:       "not equals skips nulls",
			filter:     `pull_nb != 7`,
			wantClause: "(pull_nb_int IS NOT NULL AND pull_nb_int != ?)",
			wantParams: []any{int64(7)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.filter)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.filter, err)
			}
			if got.Clause != tt.wantClause {
				t.Fatalf("clause = %q, want %q", got.Clause, tt.wantClause)
			}
			if len(tt.wantParams) == 0 {
				if len(got.Params) != 0 {
					t.Fatalf("params = %v, want none", got.Params)
				}
				return
			}
			if !reflect.DeepEqual(got.Params, tt.wantParams) {
				t.Fatalf("params = %#v, want %#v", got.Params, tt.wantParams)
			}
		})
	}
}

func TestParseRejectsInvalidFilters(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		`unknown_field = "x"`,
		`type_of = `,
		`pull_nb = "not a number"`,
		`started_at > timestamp("yesterday")`,
	} {
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse(input); err == nil {
				t.Fatalf("Parse(%q) expected error", input)
			}
		})
	}
}

func TestConditionEmpty(t *testing.T) {
	t.Parallel()

	if !(Condition{}).Empty() {
		t.Fatal("zero condition should be empty")
	}
	if (Condition{Clause: "uuid = ?"}).Empty() {
		t.Fatal("condition with clause should not be empty")
	}
}

func TestFieldsListsFilterableNames(t *testing.T) {
	t.Parallel()

	got := Fields()
	want := []string{"uuid", "git_ref", "type_of", "golang_version", "pull_nb", "started_at", "finished_at"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Fields() = %v, want %v", got, want)
	}
}
