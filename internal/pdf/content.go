package pdf

import (
	"bytes"
	"strconv"
	"strings"
)

// tjSpaceThreshold is the TJ kerning offset (thousandths of an em) treated as a word gap.
const tjSpaceThreshold = 200

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokString
	tokNumber
	tokArrayStart
	tokArrayEnd
	tokOther
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// TextFromContent recovers the visible text of a decoded page content stream.
// Only strings shown with Tj, TJ, ' and " are kept; text positioning operators
// become line breaks or spaces. Glyphs in custom encodings come out as whatever
// bytes they are stored as and are filtered down to printable characters.
func TextFromContent(content []byte) string {
	var out strings.Builder
	var line strings.Builder
	var operands []token

	flush := func() {
		s := strings.TrimRight(line.String(), " ")
		line.Reset()
		if s == "" {
			return
		}
		out.WriteString(s)
		out.WriteByte('\n')
	}
	show := func(s string) {
		line.WriteString(s)
	}

	lx := &lexer{data: content}
	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj":
			show(lastString(operands))
		case "'", "\"":
			flush()
			show(lastString(operands))
		case "TJ":
			show(joinTJ(operands))
		case "Td", "TD":
			if n := numbers(operands); len(n) == 2 && n[1] != 0 {
				flush()
			} else if line.Len() > 0 {
				line.WriteByte(' ')
			}
		case "T*", "Tm", "ET":
			flush()
		case "ID":
			lx.skipInlineImage()
		}
		operands = operands[:0]
	}
	flush()

	return strings.TrimRight(out.String(), "\n")
}

func lastString(ops []token) string {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].kind == tokString {
			return ops[i].text
		}
	}
	return ""
}

// joinTJ concatenates the strings of a TJ array, inserting a space where the
// kerning offset is wide enough to be a word gap.
func joinTJ(ops []token) string {
	var b strings.Builder
	for _, op := range ops {
		switch op.kind {
		case tokString:
			b.WriteString(op.text)
		case tokNumber:
			if op.num <= -tjSpaceThreshold && b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
	}
	return b.String()
}

func numbers(ops []token) []float64 {
	var out []float64
	for _, op := range ops {
		if op.kind == tokNumber {
			out = append(out, op.num)
		}
	}
	return out
}

type lexer struct {
	data []byte
	pos  int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (l *lexer) next() (token, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isWhite(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return token{kind: tokString, text: printable(l.literal())}, true
		case c == '<':
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
				l.pos += 2
				return token{kind: tokOther, text: "<<"}, true
			}
			l.pos++
			return token{kind: tokString, text: printable(l.hex())}, true
		case c == '>':
			l.pos++
			if l.pos < len(l.data) && l.data[l.pos] == '>' {
				l.pos++
			}
			return token{kind: tokOther, text: ">>"}, true
		case c == '[':
			l.pos++
			return token{kind: tokArrayStart}, true
		case c == ']':
			l.pos++
			return token{kind: tokArrayEnd}, true
		case c == '/':
			start := l.pos
			l.pos++
			l.word()
			return token{kind: tokOther, text: string(l.data[start:l.pos])}, true
		case c == '{' || c == '}' || c == ')':
			l.pos++
		default:
			start := l.pos
			l.word()
			w := string(l.data[start:l.pos])
			if f, err := strconv.ParseFloat(w, 64); err == nil {
				return token{kind: tokNumber, text: w, num: f}, true
			}
			return token{kind: tokOperator, text: w}, true
		}
	}
	return token{}, false
}

func (l *lexer) word() {
	for l.pos < len(l.data) && !isWhite(l.data[l.pos]) && !isDelim(l.data[l.pos]) {
		l.pos++
	}
}

// literal reads a parenthesised string body; the opening paren is already consumed.
func (l *lexer) literal() []byte {
	var buf []byte
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return buf
			}
			buf = append(buf, c)
		case '\\':
			if l.pos >= len(l.data) {
				return buf
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b', 'f':
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		default:
			buf = append(buf, c)
		}
	}
	return buf
}

// hex reads a <...> string body; the opening bracket is already consumed.
func (l *lexer) hex() []byte {
	end := bytes.IndexByte(l.data[l.pos:], '>')
	var body []byte
	if end < 0 {
		body = l.data[l.pos:]
		l.pos = len(l.data)
	} else {
		body = l.data[l.pos : l.pos+end]
		l.pos += end + 1
	}

	digits := make([]byte, 0, len(body))
	for _, c := range body {
		if !isWhite(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return nil
		}
		out = append(out, byte(v))
	}
	return out
}

// skipInlineImage advances past binary inline image data up to the EI operator.
func (l *lexer) skipInlineImage() {
	for i := l.pos; i+2 <= len(l.data); i++ {
		if l.data[i] == 'E' && l.data[i+1] == 'I' &&
			(i == 0 || isWhite(l.data[i-1])) &&
			(i+2 == len(l.data) || isWhite(l.data[i+2])) {
			l.pos = i + 2
			return
		}
	}
	l.pos = len(l.data)
}

// printable maps single-byte glyph codes to text, keeping printable Latin-1.
func printable(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '\t' || c == '\n' || c == '\r':
			sb.WriteByte(' ')
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		case c >= 0xa0:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}
