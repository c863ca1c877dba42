package protocol

import "strings"

const upperhex = "0123456789ABCDEF"

// EscapePathLiteral percent-encodes a literal for use inside a path
// segment. Unlike url.PathEscape it keeps the RFC 3986 sub-delimiters
// (quotes, parentheses, commas and equals signs) that OData key syntax
// relies on.
func EscapePathLiteral(s string) string {
	return escape(s, isPathChar)
}

// EscapeQueryValue percent-encodes a system query option value. Spaces
// become %20, and '&', '+' and '#' are encoded so the option cannot spill
// into its neighbours. '=' is kept for nested options such as
// $expand=Products($top=1).
func EscapeQueryValue(s string) string {
	return escape(s, isQueryChar)
}

func escape(s string, keep func(byte) bool) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !keep(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if keep(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func isPathChar(c byte) bool {
	if isUnreserved(c) {
		return true
	}
	switch c {
	case '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', ':', '@':
		return true
	}
	return false
}

func isQueryChar(c byte) bool {
	if isUnreserved(c) {
		return true
	}
	switch c {
	case '!', '$', '\'', '(', ')', '*', ',', ';', '=', ':', '@', '/', '?':
		return true
	}
	return false
}
