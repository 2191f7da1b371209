package pagination

import (
	"math"
	"testing"
)

func TestClampPageSize(t *testing.T) {
	t.Parallel()

	cfg := PageSizeConfig{Default: 20, Max: 100}
	tests := []struct {
		name  string
		value int
		want  int
	}{
		{name: "zero uses default", value: 0, want: 20},
		{name: "negative uses default", value: -4, want: 20},
		{name: "within range", value: 35, want: 35},
		{name: "above max", value: 500, want: 100},
	}
	for _, tc := range tests {
		if got := ClampPageSize(tc.value, cfg); got != tc.want {
			t.Fatalf("%s: ClampPageSize(%d) = %d, want %d", tc.name, tc.value, got, tc.want)
		}
	}
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("ClampPageSize without config = %d, want 1", got)
	}
}

func TestParsePageSize(t *testing.T) {
	t.Parallel()

	cfg := PageSizeConfig{Default: 20, Max: 100}
	if got, err := ParsePageSize("", cfg); err != nil || got != 20 {
		t.Fatalf("ParsePageSize(\"\") = %d, %v", got, err)
	}
	if got, err := ParsePageSize(" 150 ", cfg); err != nil || got != 100 {
		t.Fatalf("ParsePageSize(150) = %d, %v", got, err)
	}
	if _, err := ParsePageSize("ten", cfg); err == nil {
		t.Fatal("expected error for non-numeric page size")
	}
	if _, err := ParsePageSize("-1", cfg); err == nil {
		t.Fatal("expected error for negative page size")
	}
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range []Cursor{
		{SortKey: 1672628640000, ID: "abcdef12-0000-4000-8000-000000000000"},
		{SortKey: -86400000, ID: "before-epoch"},
		{SortKey: math.MinInt64, ID: "no:start"},
	} {
		out, err := DecodeCursor(EncodeCursor(in))
		if err != nil {
			t.Fatalf("decode cursor %+v: %v", in, err)
		}
		if out != in {
			t.Fatalf("cursor = %+v, want %+v", out, in)
		}
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, token := range []string{"", "!!!", EncodeCursor(Cursor{SortKey: 1}), "bm90LWEtbnVtYmVyOmlk"} {
		if _, err := DecodeCursor(token); err == nil {
			t.Fatalf("DecodeCursor(%q) expected error", token)
		}
	}
}
