package parse

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/rawingest/internal/fits"
)

// Translator derives one property from a header. It returns nil when the
// value cannot be determined.
type Translator func(h *fits.Header) (any, error)

var (
	translatorsMu sync.RWMutex
	translators   = map[string]Translator{
		"translate_date":    TranslateDate,
		"translate_filter":  TranslateFilter,
		"translate_exptime": TranslateExpTime,
	}
)

// RegisterTranslator makes a translator available to configurations by name.
// Registering an existing name replaces it.
func RegisterTranslator(name string, fn Translator) {
	translatorsMu.Lock()
	defer translatorsMu.Unlock()
	translators[name] = fn
}

// LookupTranslator returns the translator registered under name.
func LookupTranslator(name string) (Translator, bool) {
	translatorsMu.RLock()
	defer translatorsMu.RUnlock()
	fn, ok := translators[name]
	return fn, ok
}

// TranslatorNames lists registered translators, sorted.
func TranslatorNames() []string {
	translatorsMu.RLock()
	defer translatorsMu.RUnlock()
	names := make([]string, 0, len(translators))
	for n := range translators {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TranslateDate reduces DATE-OBS to its date part.
func TranslateDate(h *fits.Header) (any, error) {
	date, ok := h.String("DATE-OBS")
	if !ok {
		return nil, fmt.Errorf("DATE-OBS missing or not a string")
	}
	date = strings.TrimSpace(date)
	if c := strings.IndexByte(date, 'T'); c > 0 {
		date = date[:c]
	}
	return date, nil
}

// TranslateFilter reduces a filter description to its first word.
func TranslateFilter(h *fits.Header) (any, error) {
	name, ok := h.String("FILTER")
	if !ok {
		return nil, fmt.Errorf("FILTER missing or not a string")
	}
	name = strings.TrimSpace(name)
	if c := strings.IndexByte(name, ' '); c > 0 {
		name = name[:c]
	}
	return name, nil
}

// TranslateExpTime reads EXPTIME, falling back to EXPOSURE.
func TranslateExpTime(h *fits.Header) (any, error) {
	for _, key := range []string{"EXPTIME", "EXPOSURE"} {
		v, ok := h.Get(key)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("%s is not numeric: %v", key, v)
	}
	return nil, nil
}
