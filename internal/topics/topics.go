// Package topics parses compact topic-mix strings such as
// "G1.PGENINST-K:4,Airspace:3" into an ordered request.
package topics

import (
	"fmt"
	"strconv"
	"strings"
)

// Entry asks for Count questions from the topic identified by Code.
type Entry struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// Spec is an ordered topic mix. Codes are unique within a Spec.
type Spec []Entry

// Warning describes a token that was skipped or defaulted during Parse.
type Warning struct {
	Token  string
	Reason string
}

func (w Warning) String() string { return fmt.Sprintf("topic token %q: %s", w.Token, w.Reason) }

// Parse splits raw on ',' and each token on its last ':'.
//
// Tokens without ':' or with an empty code are skipped. A missing,
// non-numeric or negative count is replaced by fallback. Repeated codes are
// summed into the position of their first occurrence. An empty raw string
// yields an empty Spec; callers must reject it before fetching.
func Parse(raw string, fallback int) (Spec, []Warning) {
	var (
		spec  Spec
		warns []Warning
		index = map[string]int{}
	)
	if fallback < 0 {
		fallback = 0
	}
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		i := strings.LastIndexByte(tok, ':')
		if i < 0 {
			warns = append(warns, Warning{Token: tok, Reason: "missing ':', skipped"})
			continue
		}
		code := strings.TrimSpace(tok[:i])
		if code == "" {
			warns = append(warns, Warning{Token: tok, Reason: "empty topic code, skipped"})
			continue
		}
		count := fallback
		if rawCount := strings.TrimSpace(tok[i+1:]); rawCount != "" {
			n, err := strconv.Atoi(rawCount)
			switch {
			case err != nil:
				warns = append(warns, Warning{Token: tok, Reason: fmt.Sprintf("count is not a number, using %d", fallback)})
			case n < 0:
				warns = append(warns, Warning{Token: tok, Reason: fmt.Sprintf("negative count, using %d", fallback)})
			default:
				count = n
			}
		}
		if at, ok := index[code]; ok {
			spec[at].Count += count
			warns = append(warns, Warning{Token: tok, Reason: "duplicate code, counts summed"})
			continue
		}
		index[code] = len(spec)
		spec = append(spec, Entry{Code: code, Count: count})
	}
	return spec, warns
}

// Total is the number of questions requested across all entries.
func (s Spec) Total() int {
	n := 0
	for _, e := range s {
		n += e.Count
	}
	return n
}

// Empty reports whether s requests no questions at all.
func (s Spec) Empty() bool { return s.Total() == 0 }

// String renders the canonical "code:count,..." form sent to the backend.
func (s Spec) String() string {
	var b strings.Builder
	for i, e := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.Code)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(e.Count))
	}
	return b.String()
}
