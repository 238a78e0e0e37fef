package tokenize

import "testing"

func TestNormalizeCollapsesWhitespaceAndQuotes(t *testing.T) {
	got := Normalize("  \"Alex   Taylor\"  ")
	if got != "Alex Taylor" {
		t.Errorf("Normalize() = %q, want %q", got, "Alex Taylor")
	}
}

func TestNormalizeFullWidthComma(t *testing.T) {
	got := Normalize("a，b，c")
	if got != "a,b,c" {
		t.Errorf("Normalize() = %q, want %q", got, "a,b,c")
	}
}

func TestStandardizeEntityName(t *testing.T) {
	if got := StandardizeEntityName("  alex taylor  "); got != "ALEX TAYLOR" {
		t.Errorf("StandardizeEntityName() = %q, want ALEX TAYLOR", got)
	}
}

func TestTruncateByTokens(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	got := TruncateByTokens(text, 2)
	if CountApprox(got) > 3 {
		t.Errorf("TruncateByTokens left too many tokens: %q", got)
	}
}

func TestTruncateRespectsCharLimit(t *testing.T) {
	got := Truncate("hello world", 5)
	if len([]rune(got)) != 5 {
		t.Errorf("Truncate() = %q, want length 5", got)
	}
}

func TestWords(t *testing.T) {
	if len(Words("a b  c")) != 3 {
		t.Errorf("Words() should split on whitespace runs")
	}
}
