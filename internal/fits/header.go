package fits

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// ErrNoSuchHDU is returned when the requested HDU lies beyond the end of file.
var ErrNoSuchHDU = errors.New("fits: no such HDU")

// FormatError reports a file that is not valid FITS.
type FormatError struct {
	Path    string
	HDU     int
	Message string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("fits: %s (HDU %d): %s", e.Path, e.HDU, e.Message)
}

// Card is a single keyword record.
type Card struct {
	Key     string
	Value   any // string, bool, int64, float64, or nil for keys without a value
	Comment string
}

// Header is an ordered set of cards from one HDU.
type Header struct {
	cards []Card
	index map[string]int
}

func newHeader() *Header {
	return &Header{index: make(map[string]int)}
}

func (h *Header) add(c Card) {
	if i, ok := h.index[c.Key]; ok {
		h.cards[i] = c
		return
	}
	h.index[c.Key] = len(h.cards)
	h.cards = append(h.cards, c)
}

// Get returns the value of a keyword.
func (h *Header) Get(key string) (any, bool) {
	i, ok := h.index[strings.ToUpper(key)]
	if !ok {
		return nil, false
	}
	return h.cards[i].Value, true
}

// Has reports whether the keyword is present.
func (h *Header) Has(key string) bool {
	_, ok := h.index[strings.ToUpper(key)]
	return ok
}

// String returns a keyword's value as a string.
func (h *Header) String(key string) (string, bool) {
	v, ok := h.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns a keyword's value as an integer.
func (h *Header) Int(key string) (int64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// Keys returns keywords in file order.
func (h *Header) Keys() []string {
	keys := make([]string, len(h.cards))
	for i, c := range h.cards {
		keys[i] = c.Key
	}
	return keys
}

// Cards returns a copy of the header cards in file order.
func (h *Header) Cards() []Card {
	return append([]Card(nil), h.cards...)
}

// ExtName returns the EXTNAME keyword, if any.
func (h *Header) ExtName() (string, bool) {
	return h.String("EXTNAME")
}

// dataSize is the padded byte length of the data unit following the header.
// Negative geometry and sizes beyond int64 are format errors.
func (h *Header) dataSize(primary bool) (int64, error) {
	bitpix, ok := h.Int("BITPIX")
	if !ok {
		return 0, errors.New("missing BITPIX")
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return 0, fmt.Errorf("invalid BITPIX %d", bitpix)
	}
	naxis, ok := h.Int("NAXIS")
	if !ok {
		return 0, errors.New("missing NAXIS")
	}
	if naxis < 0 || naxis > 999 {
		return 0, fmt.Errorf("invalid NAXIS %d", naxis)
	}
	if naxis == 0 {
		return 0, nil
	}

	var elems int64 = 1
	for i := int64(1); i <= naxis; i++ {
		key := fmt.Sprintf("NAXIS%d", i)
		n, ok := h.Int(key)
		if !ok {
			return 0, fmt.Errorf("missing %s", key)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative %s %d", key, n)
		}
		// Random groups: NAXIS1 = 0 in the primary HDU
		if i == 1 && n == 0 && primary {
			continue
		}
		var err error
		if elems, err = mulSize(elems, n); err != nil {
			return 0, err
		}
	}

	pcount, gcount := int64(0), int64(1)
	if v, ok := h.Int("PCOUNT"); ok {
		pcount = v
	}
	if v, ok := h.Int("GCOUNT"); ok {
		gcount = v
	}
	if pcount < 0 {
		return 0, fmt.Errorf("negative PCOUNT %d", pcount)
	}
	if gcount < 0 {
		return 0, fmt.Errorf("negative GCOUNT %d", gcount)
	}

	bytesPer := bitpix
	if bytesPer < 0 {
		bytesPer = -bytesPer
	}
	if elems > math.MaxInt64-pcount {
		return 0, errOversize
	}
	size, err := mulSize(bytesPer/8, elems+pcount)
	if err != nil {
		return 0, err
	}
	if size, err = mulSize(size, gcount); err != nil {
		return 0, err
	}
	if size > math.MaxInt64-blockSize {
		return 0, errOversize
	}
	return padded(size), nil
}

var errOversize = errors.New("data unit size overflows")

// mulSize multiplies two non-negative sizes.
func mulSize(a, b int64) (int64, error) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, errOversize
	}
	return a * b, nil
}

func padded(n int64) int64 {
	if rem := n % blockSize; rem != 0 {
		return n + blockSize - rem
	}
	return n
}

// parseCard decodes one 80-byte card. The returned key is empty for
// commentary cards, which are not stored.
func parseCard(raw string) (Card, bool, error) {
	key := strings.TrimRight(raw[:8], " ")
	switch key {
	case "END":
		return Card{Key: key}, true, nil
	case "", "COMMENT", "HISTORY":
		return Card{}, false, nil
	case "HIERARCH":
		return parseHierarch(raw[8:])
	}
	if raw[8:10] != "= " {
		// No value indicator: commentary keyword
		return Card{}, false, nil
	}
	val, comment, err := parseValue(raw[10:])
	if err != nil {
		return Card{}, false, fmt.Errorf("keyword %s: %w", key, err)
	}
	return Card{Key: key, Value: val, Comment: comment}, false, nil
}

// parseHierarch handles the ESO long-keyword convention:
// "HIERARCH ESO DET CHIP = value / comment".
func parseHierarch(rest string) (Card, bool, error) {
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return Card{}, false, nil
	}
	key := strings.Join(strings.Fields(rest[:eq]), " ")
	val, comment, err := parseValue(rest[eq+1:])
	if err != nil {
		return Card{}, false, fmt.Errorf("keyword %s: %w", key, err)
	}
	return Card{Key: key, Value: val, Comment: comment}, false, nil
}

func parseValue(field string) (any, string, error) {
	s := strings.TrimLeft(field, " ")
	if s == "" {
		return nil, "", nil
	}

	if s[0] == '\'' {
		var b strings.Builder
		i := 1
		for ; i < len(s); i++ {
			if s[i] == '\'' {
				if i+1 < len(s) && s[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				break
			}
			b.WriteByte(s[i])
		}
		if i >= len(s) {
			return nil, "", errors.New("unterminated string")
		}
		return strings.TrimRight(b.String(), " "), comment(s[i+1:]), nil
	}

	text, cmt := s, ""
	if slash := strings.IndexByte(s, '/'); slash >= 0 {
		text, cmt = s[:slash], comment(s[slash:])
	}
	text = strings.TrimSpace(text)

	switch text {
	case "":
		return nil, cmt, nil
	case "T":
		return true, cmt, nil
	case "F":
		return false, cmt, nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, cmt, nil
	}
	f, err := strconv.ParseFloat(strings.NewReplacer("D", "E", "d", "e").Replace(text), 64)
	if err != nil {
		// Complex values and other exotic forms are kept verbatim
		return text, cmt, nil
	}
	return f, cmt, nil
}

func comment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	return strings.TrimSpace(s)
}
