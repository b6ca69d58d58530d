package pyast

import "strings"

// The scanners here operate on raw text rather than the parse tree. They are
// used where an edit has to be located inside possibly-unparseable text: the
// rewriter's call-site surgery and the extractor's fallback spans for
// module-level constants. Bracket depth must ignore brackets inside string
// literals; a naive counter mis-parses expressions like ["}", "{"].

// quoteState tracks whether a scan position is inside a string literal.
type quoteState struct {
	quote   byte // active quote char, 0 when outside a string
	triple  bool
	escaped bool
}

func (q *quoteState) feed(s string, i int) (consumed int) {
	c := s[i]

	if q.quote != 0 {
		if q.escaped {
			q.escaped = false
			return 1
		}
		if c == '\\' {
			q.escaped = true
			return 1
		}
		if c == q.quote {
			if q.triple {
				if strings.HasPrefix(s[i:], strings.Repeat(string(q.quote), 3)) {
					q.quote = 0
					q.triple = false
					return 3
				}
				return 1
			}
			q.quote = 0
			return 1
		}
		return 1
	}

	if c == '\'' || c == '"' {
		q.quote = c
		if strings.HasPrefix(s[i:], strings.Repeat(string(c), 3)) {
			q.triple = true
			return 3
		}
		return 1
	}
	return 1
}

func (q *quoteState) inString() bool { return q.quote != 0 }

// MatchingDelim returns the index of the delimiter matching the opener at
// open in s, skipping string literals, or -1 when unbalanced.
func MatchingDelim(s string, open int) int {
	if open < 0 || open >= len(s) {
		return -1
	}
	var closer byte
	switch s[open] {
	case '(':
		closer = ')'
	case '[':
		closer = ']'
	case '{':
		closer = '}'
	default:
		return -1
	}
	opener := s[open]

	depth := 0
	var q quoteState
	for i := open; i < len(s); {
		step := q.feed(s, i)
		if !q.inString() && step == 1 {
			switch s[i] {
			case opener:
				depth++
			case closer:
				depth--
				if depth == 0 {
					return i
				}
			}
		}
		i += step
	}
	return -1
}

// BracketDepthDelta returns the net bracket depth change across line,
// ignoring brackets inside string literals. A continuing triple-quoted
// string state can be threaded through q across lines; pass nil for a
// line-local scan.
func BracketDepthDelta(line string, q *quoteState) int {
	local := quoteState{}
	if q == nil {
		q = &local
	}
	depth := 0
	for i := 0; i < len(line); {
		step := q.feed(line, i)
		if !q.inString() && step == 1 {
			switch line[i] {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			}
		}
		i += step
	}
	return depth
}

// ExpressionEnd returns the 0-based index of the last line of the expression
// starting at lines[start], treating a multi-line bracketed expression
// (including brackets inside string literals, which are skipped) as one
// atomic block. ok is false when the brackets never rebalance.
func ExpressionEnd(lines []string, start int) (end int, ok bool) {
	if start < 0 || start >= len(lines) {
		return start, false
	}
	depth := 0
	var q quoteState
	for i := start; i < len(lines); i++ {
		depth += BracketDepthDelta(lines[i], &q)
		// An explicit continuation keeps the expression open even at depth 0.
		trimmed := strings.TrimRight(lines[i], " \t")
		if depth == 0 && !q.inString() && !strings.HasSuffix(trimmed, "\\") {
			return i, true
		}
		if depth < 0 {
			return i, false
		}
	}
	return len(lines) - 1, false
}

// SplitTopLevelArgs splits a call argument list (without surrounding
// parentheses) on commas at bracket depth zero, string-aware.
func SplitTopLevelArgs(s string) []string {
	var args []string
	depth := 0
	last := 0
	var q quoteState
	for i := 0; i < len(s); {
		step := q.feed(s, i)
		if !q.inString() && step == 1 {
			switch s[i] {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			case ',':
				if depth == 0 {
					args = append(args, strings.TrimSpace(s[last:i]))
					last = i + 1
				}
			}
		}
		i += step
	}
	tail := strings.TrimSpace(s[last:])
	if tail != "" {
		args = append(args, tail)
	}
	return args
}
