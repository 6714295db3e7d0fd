package shared

import (
	"regexp"
	"strings"
)

// Wildcard is the single character users may use in search terms to match
// any sequence of characters. Everything else in a term matches literally.
const Wildcard = '*'

// SearchPattern is a compiled, case-insensitive search term.
type SearchPattern struct {
	raw string
	re  *regexp.Regexp
}

// CompilePattern translates a user-supplied search term into a predicate.
//
// The wildcard maps to "zero or more arbitrary characters"; every other
// character is escaped before substitution so that regexp metacharacters in
// the term ("user+tag@example.com") match literally. The pattern is anchored
// at both ends, mirroring SQL LIKE: "a*b" matches "aXYZb" and "ab" but not
// "ba". An empty term compiles to a pattern matching everything.
func CompilePattern(raw string) (*SearchPattern, error) {
	var sb strings.Builder
	sb.WriteString(`(?i)^`)
	for _, chunk := range strings.Split(raw, string(Wildcard)) {
		sb.WriteString(regexp.QuoteMeta(chunk))
		sb.WriteString(`.*`)
	}
	expr := strings.TrimSuffix(sb.String(), `.*`) + `$`
	if raw == "" {
		expr = `(?i)^.*$`
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &SearchPattern{raw: raw, re: re}, nil
}

// Match reports whether the value matches the pattern.
func (p *SearchPattern) Match(value string) bool {
	if p == nil || p.raw == "" {
		return true
	}
	return p.re.MatchString(value)
}

// MatchAny reports whether at least one of the values matches.
func (p *SearchPattern) MatchAny(values ...string) bool {
	if p == nil || p.raw == "" {
		return true
	}
	for _, v := range values {
		if p.re.MatchString(v) {
			return true
		}
	}
	return false
}

// Term returns the raw search term the pattern was compiled from.
func (p *SearchPattern) Term() string {
	if p == nil {
		return ""
	}
	return p.raw
}

// IsEmpty reports whether the pattern filters anything at all.
func (p *SearchPattern) IsEmpty() bool {
	return p == nil || p.raw == ""
}

// LikeTerm returns the pattern in SQL LIKE form so the filter can be pushed
// into the database. LIKE metacharacters in the raw term are escaped with a
// backslash before the wildcard is substituted; use `ESCAPE '\'` (the pgx
// default) in the query. An empty pattern matches everything, same as Match.
func (p *SearchPattern) LikeTerm() string {
	if p.IsEmpty() {
		return "%"
	}
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	escaped := escaper.Replace(p.raw)
	return strings.ReplaceAll(escaped, string(Wildcard), "%")
}
