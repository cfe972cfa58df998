package intent

import (
	"fmt"
	"regexp"
	"strings"
)

// token is one element of a parsed template: a literal word or a {placeholder}.
type token struct {
	literal     string
	placeholder string
}

func (t token) isPlaceholder() bool { return t.placeholder != "" }

// Template is a single fast-path pattern, e.g. "add {item} to {list} list".
// Placeholders capture one or more words; everything else matches literally
// and case-insensitively.
type Template struct {
	Pattern string
	Handler string

	tokens []token
	re     *regexp.Regexp
}

var placeholderName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ParseTemplate compiles a pattern into a matchable template.
func ParseTemplate(pattern, handler string) (*Template, error) {
	words := strings.Fields(pattern)
	if len(words) == 0 {
		return nil, fmt.Errorf("empty template pattern")
	}

	t := &Template{Pattern: pattern, Handler: handler}
	var re strings.Builder
	re.WriteString(`(?i)^`)

	for i, w := range words {
		if i > 0 {
			re.WriteString(`\s+`)
		}
		if strings.HasPrefix(w, "{") && strings.HasSuffix(w, "}") {
			name := w[1 : len(w)-1]
			if !placeholderName.MatchString(name) {
				return nil, fmt.Errorf("invalid placeholder %q in template %q", w, pattern)
			}
			t.tokens = append(t.tokens, token{placeholder: name})
			fmt.Fprintf(&re, `(?P<%s>\S+(?:\s+\S+)*?)`, name)
			continue
		}
		t.tokens = append(t.tokens, token{literal: strings.ToLower(w)})
		re.WriteString(regexp.QuoteMeta(w))
	}
	re.WriteString(`[?!.]*$`)

	compiled, err := regexp.Compile(re.String())
	if err != nil {
		return nil, fmt.Errorf("compile template %q: %w", pattern, err)
	}
	t.re = compiled
	return t, nil
}

// Match returns the extracted arguments if the utterance matches, or nil.
func (t *Template) Match(utterance string) map[string]string {
	text := strings.Join(strings.Fields(utterance), " ")
	m := t.re.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	args := make(map[string]string)
	for i, name := range t.re.SubexpNames() {
		if name != "" {
			args[name] = strings.ToLower(strings.Trim(m[i], "?!.,"))
		}
	}
	return args
}

// Overlaps reports whether some input string could match both templates.
//
// The check unifies the two token sequences: literals must be equal, and a
// placeholder can absorb one or more tokens of the other template. It is run
// at registration time only, so the exponential worst case never gates a
// request.
func (t *Template) Overlaps(other *Template) bool {
	memo := make(map[[2]int]bool)

	var unify func(i, j int) bool
	unify = func(i, j int) bool {
		if i == len(t.tokens) && j == len(other.tokens) {
			return true
		}
		if i == len(t.tokens) || j == len(other.tokens) {
			return false
		}
		key := [2]int{i, j}
		if v, ok := memo[key]; ok {
			return v
		}
		memo[key] = false // cycle guard

		a, b := t.tokens[i], other.tokens[j]
		var result bool
		switch {
		case !a.isPlaceholder() && !b.isPlaceholder():
			result = a.literal == b.literal && unify(i+1, j+1)
		default:
			// A placeholder absorbs at least one token; try every split.
			if a.isPlaceholder() {
				result = unify(i+1, j+1) || unify(i, j+1)
			}
			if !result && b.isPlaceholder() {
				result = unify(i+1, j+1) || unify(i+1, j)
			}
		}
		memo[key] = result
		return result
	}

	return unify(0, 0)
}
