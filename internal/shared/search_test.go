package shared

import "testing"

func TestCompilePatternWildcard(t *testing.T) {
	p, err := CompilePattern("a*b")
	if err != nil {
		t.Fatalf("CompilePattern returned error: %v", err)
	}
	for _, value := range []string{"aXYZb", "ab", "AxB", "a b"} {
		if !p.Match(value) {
			t.Fatalf("pattern a*b should match %q", value)
		}
	}
	for _, value := range []string{"ba", "a", "b", "aXYZbc", "xab"} {
		if p.Match(value) {
			t.Fatalf("pattern a*b should not match %q", value)
		}
	}
}

func TestCompilePatternCaseInsensitive(t *testing.T) {
	p, err := CompilePattern("Admin*")
	if err != nil {
		t.Fatalf("CompilePattern returned error: %v", err)
	}
	for _, value := range []string{"Administrator", "ADMIN", "admin user"} {
		if !p.Match(value) {
			t.Fatalf("pattern Admin* should match %q", value)
		}
	}
}

func TestCompilePatternEscapesMetacharacters(t *testing.T) {
	p, err := CompilePattern("user+tag@example.com")
	if err != nil {
		t.Fatalf("CompilePattern returned error: %v", err)
	}
	if !p.Match("user+tag@example.com") {
		t.Fatalf("literal pattern should match itself")
	}
	// The dot must not act as a regexp metacharacter.
	if p.Match("user+tag@exampleXcom") {
		t.Fatalf("dot must match literally")
	}

	p, err = CompilePattern("50%*")
	if err != nil {
		t.Fatalf("CompilePattern returned error: %v", err)
	}
	if !p.Match("50% done") {
		t.Fatalf("percent must match literally")
	}
}

func TestCompilePatternEmpty(t *testing.T) {
	p, err := CompilePattern("")
	if err != nil {
		t.Fatalf("CompilePattern returned error: %v", err)
	}
	if !p.IsEmpty() {
		t.Fatalf("empty term should produce an empty pattern")
	}
	if !p.Match("anything") || !p.Match("") {
		t.Fatalf("empty pattern should match everything")
	}
}

func TestMatchAny(t *testing.T) {
	p, err := CompilePattern("*@example.com")
	if err != nil {
		t.Fatalf("CompilePattern returned error: %v", err)
	}
	if !p.MatchAny("Jane Doe", "jane@example.com") {
		t.Fatalf("expected match on second value")
	}
	if p.MatchAny("Jane Doe", "jane@example.org") {
		t.Fatalf("expected no match")
	}
}

func TestLikeTerm(t *testing.T) {
	cases := []struct {
		raw, want string
	}{
		// An empty term matches everything, both in memory and in SQL.
		{"", "%"},
		{"a*b", "a%b"},
		{"*jane*", "%jane%"},
		{"50%", `50\%`},
		{"under_score", `under\_score`},
		{`back\slash`, `back\\slash`},
	}
	for _, tc := range cases {
		p, err := CompilePattern(tc.raw)
		if err != nil {
			t.Fatalf("CompilePattern(%q) returned error: %v", tc.raw, err)
		}
		if got := p.LikeTerm(); got != tc.want {
			t.Fatalf("LikeTerm(%q): expected %q, got %q", tc.raw, tc.want, got)
		}
	}

	var nilPattern *SearchPattern
	if got := nilPattern.LikeTerm(); got != "%" {
		t.Fatalf("nil pattern LikeTerm: expected %%, got %q", got)
	}
}
