package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// KV is a header keyword and value for a synthetic FITS HDU.
// Values may be string, bool, int, int64 or float64.
type KV struct {
	Key   string
	Value any
}

// HDU describes one header-data unit of a synthetic FITS file.
type HDU struct {
	Cards []KV

	// DataBytes is the length of an 8-bit data array; zero means no data.
	DataBytes int
}

// WriteFITS writes a minimal FITS file with the given HDUs and returns its path.
// The first HDU is the primary; the rest are IMAGE extensions.
func WriteFITS(t testing.TB, dir, name string, hdus ...HDU) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("WriteFITS: %v", err)
	}
	if err := os.WriteFile(path, EncodeFITS(hdus...), 0o644); err != nil {
		t.Fatalf("WriteFITS: %v", err)
	}
	return path
}

// EncodeFITS renders HDUs as FITS bytes.
func EncodeFITS(hdus ...HDU) []byte {
	if len(hdus) == 0 {
		hdus = []HDU{{}}
	}
	var b strings.Builder
	for i, h := range hdus {
		var cards []KV
		if i == 0 {
			cards = append(cards, KV{"SIMPLE", true})
		} else {
			cards = append(cards, KV{"XTENSION", "IMAGE"})
		}
		cards = append(cards, KV{"BITPIX", 8})
		if h.DataBytes > 0 {
			cards = append(cards, KV{"NAXIS", 1}, KV{"NAXIS1", h.DataBytes})
		} else {
			cards = append(cards, KV{"NAXIS", 0})
		}
		if i == 0 {
			cards = append(cards, KV{"EXTEND", len(hdus) > 1})
		} else {
			cards = append(cards, KV{"PCOUNT", 0}, KV{"GCOUNT", 1})
		}
		cards = append(cards, h.Cards...)

		var hdr strings.Builder
		for _, c := range cards {
			hdr.WriteString(FormatCard(c.Key, c.Value))
		}
		hdr.WriteString(fmt.Sprintf("%-80s", "END"))
		b.WriteString(pad(hdr.String(), ' '))

		if h.DataBytes > 0 {
			b.WriteString(pad(strings.Repeat("\x00", h.DataBytes), '\x00'))
		}
	}
	return []byte(b.String())
}

// FormatCard renders one fixed-format 80-character card.
func FormatCard(key string, value any) string {
	var val string
	switch v := value.(type) {
	case string:
		s := "'" + strings.ReplaceAll(v, "'", "''")
		for len(s) < 9 {
			s += " "
		}
		val = s + "'"
	case bool:
		val = fmt.Sprintf("%20s", map[bool]string{true: "T", false: "F"}[v])
	case int:
		val = fmt.Sprintf("%20d", v)
	case int64:
		val = fmt.Sprintf("%20d", v)
	case float64:
		val = fmt.Sprintf("%20s", strconv.FormatFloat(v, 'E', -1, 64))
	default:
		val = fmt.Sprintf("%20v", v)
	}
	card := fmt.Sprintf("%-8s= %s", key, val)
	if len(card) > 80 {
		card = card[:80]
	}
	return fmt.Sprintf("%-80s", card)
}

func pad(s string, fill byte) string {
	if rem := len(s) % 2880; rem != 0 {
		s += strings.Repeat(string(fill), 2880-rem)
	}
	return s
}
