package argv

import "strings"

const (
	space     = ' '
	quote     = '"'
	backslash = '\\'
)

// Split tokenizes line. Only the ASCII space separates arguments; tabs and newlines are
// part of the argument they appear in.
func Split(line string) []string {
	var (
		args    []string
		current strings.Builder
	)

	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}

	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == space:
			flush()
			i++
		case current.Len() == 0 && c == quote:
			var arg string
			arg, i = quoted(line, i+1)
			args = append(args, arg)
		case current.Len() == 0 && c == backslash && i+1 < len(line) && line[i+1] == quote:
			var arg string
			arg, i = quoted(line, i+2)
			args = append(args, arg)
		default:
			current.WriteByte(c)
			i++
		}
	}
	flush()

	return args
}

// quoted reads a quoted span starting at offset start and returns its content and the
// offset just past the closing sequence. An unterminated span runs to the end of line.
func quoted(line string, start int) (string, int) {
	var b strings.Builder
	for j := start; j < len(line); j++ {
		c := line[j]
		if c == quote && boundary(line, j+1) {
			return b.String(), j + 1
		}
		if c == backslash && j+1 < len(line) && line[j+1] == quote && boundary(line, j+2) {
			return b.String(), j + 2
		}
		b.WriteByte(c)
	}
	return b.String(), len(line)
}

// boundary reports whether offset i is the end of line or a space.
func boundary(line string, i int) bool {
	return i >= len(line) || line[i] == space
}
