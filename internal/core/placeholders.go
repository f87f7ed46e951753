package core

import "strings"

// placeholders describes the parameters a SQL text declares.
type placeholders struct {
	// names holds named parameters without their ':', '@' or '$' prefix.
	names map[string]struct{}

	// positional counts '?' and '?NNN' parameters.
	positional int
}

// scanPlaceholders finds the parameters in sqlText, skipping string
// literals, quoted identifiers and comments.
func scanPlaceholders(sqlText string) placeholders {
	p := placeholders{names: make(map[string]struct{})}
	s := sqlText

	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(s, i, c)
		case '[':
			if end := strings.IndexByte(s[i+1:], ']'); end >= 0 {
				i += end + 1
			} else {
				i = len(s)
			}
		case '-':
			if i+1 < len(s) && s[i+1] == '-' {
				if end := strings.IndexByte(s[i:], '\n'); end >= 0 {
					i += end
				} else {
					i = len(s)
				}
			}
		case '/':
			if i+1 < len(s) && s[i+1] == '*' {
				if end := strings.Index(s[i+2:], "*/"); end >= 0 {
					i += end + 3
				} else {
					i = len(s)
				}
			}
		case '?':
			p.positional++
			for i+1 < len(s) && isDigit(s[i+1]) {
				i++
			}
		case ':', '@', '$':
			j := i + 1
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			if j > i+1 {
				p.names[s[i+1:j]] = struct{}{}
				i = j - 1
			}
		}
	}

	return p
}

// skipQuoted returns the index of the closing quote matching s[start].
// A doubled quote inside the literal is an escaped quote.
func skipQuoted(s string, start int, quote byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(s)
}

// bareName strips one leading parameter prefix.
func bareName(name string) string {
	if name != "" && strings.IndexByte(":@$", name[0]) >= 0 {
		return name[1:]
	}
	return name
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}
