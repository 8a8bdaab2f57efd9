package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var exportRe = regexp.MustCompile(`^(?:module\.exports\s*=|export\s+default)`)

// jsToJSON extracts the object literal assigned to module.exports and
// rewrites it as JSON. Only literal values are supported: strings, numbers,
// booleans, null, objects and arrays. Anything computed at runtime, such as
// process.env lookups or function calls, is rejected.
func jsToJSON(src []byte) ([]byte, error) {
	s := &jsScanner{src: string(src)}
	if !s.seekExport() {
		return nil, errors.New("no module.exports assignment found")
	}
	s.skipSpace()
	if s.pos >= len(s.src) || s.src[s.pos] != '{' {
		return nil, errors.New("module.exports must be an object literal")
	}
	if err := s.convert(); err != nil {
		return nil, err
	}
	return []byte(s.out.String()), nil
}

type jsScanner struct {
	src   string
	pos   int
	depth int
	out   strings.Builder
}

func (s *jsScanner) convert() error {
	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return errors.New("unexpected end of file inside object literal")
		}

		c := s.src[s.pos]
		switch {
		case c == '{' || c == '[':
			s.depth++
			s.out.WriteByte(c)
			s.pos++
		case c == '}' || c == ']':
			s.dropTrailingComma()
			s.depth--
			s.out.WriteByte(c)
			s.pos++
			if s.depth == 0 {
				return nil
			}
		case c == ',' || c == ':':
			s.out.WriteByte(c)
			s.pos++
		case c == '\'' || c == '"' || c == '`':
			str, err := s.readString(c)
			if err != nil {
				return err
			}
			quoted, _ := json.Marshal(str)
			s.out.Write(quoted)
		case c == '-' || c == '+' || c == '.' || isDigit(c):
			if err := s.readNumber(); err != nil {
				return err
			}
		case isIdentStart(c):
			ident := s.readIdent()
			s.skipSpace()
			if s.pos < len(s.src) && s.src[s.pos] == ':' {
				quoted, _ := json.Marshal(ident)
				s.out.Write(quoted)
				continue
			}
			switch ident {
			case "true", "false", "null":
				s.out.WriteString(ident)
			default:
				return fmt.Errorf("unsupported expression %q at offset %d: only literal values are allowed", ident, s.pos)
			}
		default:
			return fmt.Errorf("unexpected character %q at offset %d", c, s.pos)
		}
	}
}

// seekExport moves past the export keyword, ignoring matches inside
// comments and string literals
func (s *jsScanner) seekExport() bool {
	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return false
		}
		if loc := exportRe.FindStringIndex(s.src[s.pos:]); loc != nil {
			s.pos += loc[1]
			return true
		}
		switch c := s.src[s.pos]; c {
		case '\'', '"', '`':
			if _, err := s.readString(c); err != nil {
				return false
			}
		default:
			s.pos++
		}
	}
}

// skipSpace moves past whitespace and comments
func (s *jsScanner) skipSpace() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			s.pos++
		case strings.HasPrefix(s.src[s.pos:], "//"):
			end := strings.IndexByte(s.src[s.pos:], '\n')
			if end < 0 {
				s.pos = len(s.src)
				return
			}
			s.pos += end + 1
		case strings.HasPrefix(s.src[s.pos:], "/*"):
			end := strings.Index(s.src[s.pos+2:], "*/")
			if end < 0 {
				s.pos = len(s.src)
				return
			}
			s.pos += end + 4
		default:
			return
		}
	}
}

func (s *jsScanner) dropTrailingComma() {
	out := s.out.String()
	if strings.HasSuffix(out, ",") {
		s.out.Reset()
		s.out.WriteString(out[:len(out)-1])
	}
}

func (s *jsScanner) readString(quote byte) (string, error) {
	start := s.pos
	s.pos++
	var sb strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == quote:
			s.pos++
			return sb.String(), nil
		case c == '\\':
			if s.pos+1 >= len(s.src) {
				return "", fmt.Errorf("unterminated string at offset %d", start)
			}
			s.pos++
			esc := s.src[s.pos]
			s.pos++
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '0':
				sb.WriteByte(0)
			case 'u':
				if s.pos+4 > len(s.src) {
					return "", fmt.Errorf("bad unicode escape at offset %d", s.pos)
				}
				r, err := strconv.ParseUint(s.src[s.pos:s.pos+4], 16, 32)
				if err != nil {
					return "", fmt.Errorf("bad unicode escape at offset %d", s.pos)
				}
				sb.WriteRune(rune(r))
				s.pos += 4
			case '\n':
				// line continuation
			default:
				sb.WriteByte(esc)
			}
		case quote == '`' && c == '$' && s.pos+1 < len(s.src) && s.src[s.pos+1] == '{':
			return "", fmt.Errorf("template interpolation at offset %d is not supported", s.pos)
		case c == '\n' && quote != '`':
			return "", fmt.Errorf("unterminated string at offset %d", start)
		default:
			r, size := utf8.DecodeRuneInString(s.src[s.pos:])
			sb.WriteRune(r)
			s.pos += size
		}
	}
	return "", fmt.Errorf("unterminated string at offset %d", start)
}

func (s *jsScanner) readNumber() error {
	start := s.pos
	for s.pos < len(s.src) && strings.IndexByte("0123456789+-.eE_", s.src[s.pos]) >= 0 {
		s.pos++
	}
	literal := strings.ReplaceAll(s.src[start:s.pos], "_", "")
	n, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q at offset %d", literal, start)
	}
	s.out.WriteString(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

func (s *jsScanner) readIdent() string {
	start := s.pos
	for s.pos < len(s.src) && (isIdentStart(s.src[s.pos]) || isDigit(s.src[s.pos])) {
		s.pos++
	}
	return s.src[start:s.pos]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
