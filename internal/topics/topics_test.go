package topics_test

import (
	"reflect"
	"testing"

	"github.com/mind-engage/groundschool/internal/topics"
)

func TestParseBasic(t *testing.T) {
	got, warns := topics.Parse("G1.X-K:4,Airspace:3", 3)
	want := topics.Spec{{Code: "G1.X-K", Count: 4}, {Code: "Airspace", Count: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %+v, want %+v", got, want)
	}
	if len(warns) != 0 {
		t.Fatalf("unexpected warnings: %v", warns)
	}
}

func TestParseEmpty(t *testing.T) {
	got, _ := topics.Parse("", 4)
	if len(got) != 0 || !got.Empty() {
		t.Fatalf("empty spec should be empty, got %+v", got)
	}
}

func TestParseFallbackAndSkips(t *testing.T) {
	got, warns := topics.Parse("A:,B:x,Cnocolon,:5,D:-2,E:0", 5)
	want := topics.Spec{{Code: "A", Count: 5}, {Code: "B", Count: 5}, {Code: "D", Count: 5}, {Code: "E", Count: 0}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %+v, want %+v", got, want)
	}
	// B (non-numeric), Cnocolon (no colon), ":5" (empty code), D (negative)
	if len(warns) != 4 {
		t.Fatalf("warnings = %d (%v), want 4", len(warns), warns)
	}
}

func TestParseDuplicatesAreSummed(t *testing.T) {
	got, warns := topics.Parse("K1.PFPREP-K:3,G5.PWTBAL-K:4,K1.PFPREP-K:2", 3)
	want := topics.Spec{{Code: "K1.PFPREP-K", Count: 5}, {Code: "G5.PWTBAL-K", Count: 4}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Parse = %+v, want %+v", got, want)
	}
	if len(warns) != 1 {
		t.Fatalf("want one duplicate warning, got %v", warns)
	}
}

func TestSplitsOnLastColon(t *testing.T) {
	got, _ := topics.Parse("weird:code:6", 1)
	if len(got) != 1 || got[0].Code != "weird:code" || got[0].Count != 6 {
		t.Fatalf("Parse = %+v", got)
	}
}

func TestStringAndTotal(t *testing.T) {
	spec, _ := topics.Parse(" G1.PGENINST-K:4 , G6.PACPERFP-K:3 ", 3)
	if s := spec.String(); s != "G1.PGENINST-K:4,G6.PACPERFP-K:3" {
		t.Fatalf("String = %q", s)
	}
	if spec.Total() != 7 {
		t.Fatalf("Total = %d", spec.Total())
	}
	zero, _ := topics.Parse("A:0,B:0", 3)
	if !zero.Empty() {
		t.Fatalf("all-zero spec should be empty")
	}
}
