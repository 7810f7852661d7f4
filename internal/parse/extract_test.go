package parse

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rawingest/internal/config"
	"github.com/roach88/rawingest/internal/fits"
	"github.com/roach88/rawingest/internal/schema"
	"github.com/roach88/rawingest/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() config.ParseConfig {
	return config.ParseConfig{
		Translation: map[string]string{
			"visit":  "EXPID",
			"object": "OBJECT",
			"ccd":    "CCDNUM",
		},
		Translators: map[string]string{
			"date":   "translate_date",
			"filter": "translate_filter",
		},
		Defaults: map[string]any{"ccd": 0},
	}
}

func TestNew_UnknownTranslator(t *testing.T) {
	cfg := baseConfig()
	cfg.Translators["expTime"] = "translate_nonsense"

	_, err := New(cfg, quietLogger())
	require.Error(t, err)
	assert.True(t, schema.IsConfigError(err))
	assert.Contains(t, err.Error(), `parse.translators.expTime: unknown translator "translate_nonsense"`)
}

func TestExtract_SingleHDU(t *testing.T) {
	path := testutil.WriteFITS(t, t.TempDir(), "raw.fits", testutil.HDU{
		Cards: []testutil.KV{
			{Key: "EXPID", Value: 100},
			{Key: "OBJECT", Value: "  M31  "},
			{Key: "DATE-OBS", Value: "2024-03-01T04:05:06"},
			{Key: "FILTER", Value: "r SDSS"},
		},
	})

	e, err := New(baseConfig(), quietLogger())
	require.NoError(t, err)

	info, perHDU, err := e.Extract(path)
	require.NoError(t, err)

	want := schema.Record{
		"visit":  int64(100),
		"object": "M31",
		"ccd":    0,
		"date":   "2024-03-01",
		"filter": "r",
	}
	assert.Equal(t, want, info)
	require.Len(t, perHDU, 1)
	assert.Equal(t, want, perHDU[0])
}

func TestExtract_Extensions(t *testing.T) {
	path := testutil.WriteFITS(t, t.TempDir(), "mef.fits",
		testutil.HDU{Cards: []testutil.KV{{Key: "EXPID", Value: 7}, {Key: "OBJECT", Value: "field"}, {Key: "DATE-OBS", Value: "2024-01-02"}, {Key: "FILTER", Value: "g"}}},
		testutil.HDU{Cards: []testutil.KV{{Key: "EXTNAME", Value: "CCD1"}, {Key: "CCDNUM", Value: 1}}, DataBytes: 10},
		testutil.HDU{Cards: []testutil.KV{{Key: "EXTNAME", Value: "SKIPME"}, {Key: "CCDNUM", Value: 99}}},
		testutil.HDU{Cards: []testutil.KV{{Key: "EXTNAME", Value: "CCD2"}, {Key: "CCDNUM", Value: 2}}},
	)

	cfg := baseConfig()
	cfg.ExtNames = []string{"CCD1", "CCD2"}
	e, err := New(cfg, quietLogger())
	require.NoError(t, err)

	info, perHDU, err := e.Extract(path)
	require.NoError(t, err)

	assert.Equal(t, 0, info["ccd"])
	require.Len(t, perHDU, 2)
	assert.Equal(t, int64(1), perHDU[0]["ccd"])
	assert.Equal(t, int64(1), perHDU[0][HDUProperty])
	assert.Equal(t, int64(2), perHDU[1]["ccd"])
	assert.Equal(t, int64(3), perHDU[1][HDUProperty])
	assert.Equal(t, int64(7), perHDU[1]["visit"])
	assert.Equal(t, "g", perHDU[1]["filter"])
	// file-level record is not modified by extension overlays
	_, hasHDU := info[HDUProperty]
	assert.False(t, hasHDU)
}

func TestExtract_MissingExtensionWarns(t *testing.T) {
	path := testutil.WriteFITS(t, t.TempDir(), "mef.fits",
		testutil.HDU{Cards: []testutil.KV{{Key: "EXPID", Value: 7}}},
		testutil.HDU{Cards: []testutil.KV{{Key: "EXTNAME", Value: "CCD1"}, {Key: "CCDNUM", Value: 1}}},
	)

	var logs bytes.Buffer
	cfg := baseConfig()
	cfg.ExtNames = []string{"CCD1", "CCD9"}
	e, err := New(cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	_, perHDU, err := e.Extract(path)
	require.NoError(t, err)
	assert.Len(t, perHDU, 1)
	assert.Contains(t, logs.String(), "error reading extensions")
	assert.Contains(t, logs.String(), "CCD9")
}

func TestExtract_UnreadableFile(t *testing.T) {
	e, err := New(baseConfig(), quietLogger())
	require.NoError(t, err)

	_, _, err = e.Extract(filepath.Join(t.TempDir(), "missing.fits"))
	var xe *ExtractError
	require.ErrorAs(t, err, &xe)
}

func TestFromHeader_TranslatorFailureLeavesPropertyUnset(t *testing.T) {
	e, err := New(config.ParseConfig{Translators: map[string]string{"date": "translate_date"}}, quietLogger())
	require.NoError(t, err)

	path := testutil.WriteFITS(t, t.TempDir(), "nodate.fits", testutil.HDU{})
	h, err := fits.ReadHeader(path, 0)
	require.NoError(t, err)

	info := e.FromHeader(path, h, nil)
	_, ok := info["date"]
	assert.False(t, ok)
}

func TestTranslators(t *testing.T) {
	path := testutil.WriteFITS(t, t.TempDir(), "t.fits", testutil.HDU{
		Cards: []testutil.KV{{Key: "DATE-OBS", Value: "2023-12-31"}, {Key: "FILTER", Value: "HSC-I"}, {Key: "EXPOSURE", Value: 15}},
	})
	h, err := fits.ReadHeader(path, 0)
	require.NoError(t, err)

	d, err := TranslateDate(h)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", d)

	f, err := TranslateFilter(h)
	require.NoError(t, err)
	assert.Equal(t, "HSC-I", f)

	x, err := TranslateExpTime(h)
	require.NoError(t, err)
	assert.Equal(t, 15.0, x)
}

func TestExtract_CustomReader(t *testing.T) {
	e, err := New(config.ParseConfig{Translation: map[string]string{"visit": "EXPID"}}, quietLogger())
	require.NoError(t, err)

	var gotHDU = -1
	e.WithReader(func(path string, hdu int) (*fits.Header, error) {
		gotHDU = hdu
		return fits.ReadHeader(path, hdu)
	})

	path := testutil.WriteFITS(t, t.TempDir(), "r.fits", testutil.HDU{Cards: []testutil.KV{{Key: "EXPID", Value: 5}}})
	info, _, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, 0, gotHDU)
	assert.Equal(t, int64(5), info["visit"])
}

func TestRegisterTranslator(t *testing.T) {
	RegisterTranslator("translate_constant", func(*fits.Header) (any, error) { return "fixed", nil })
	t.Cleanup(func() {
		translatorsMu.Lock()
		delete(translators, "translate_constant")
		translatorsMu.Unlock()
	})

	assert.Contains(t, TranslatorNames(), "translate_constant")
	e, err := New(config.ParseConfig{Translators: map[string]string{"tag": "translate_constant"}}, quietLogger())
	require.NoError(t, err)

	path := testutil.WriteFITS(t, t.TempDir(), "c.fits", testutil.HDU{})
	info, _, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "fixed", info["tag"])
}

func TestExtract_MalformedExtensionStops(t *testing.T) {
	// Extension 1 claims a negative data size; CCD1 after it is unreachable.
	var ext strings.Builder
	for _, c := range []testutil.KV{
		{Key: "XTENSION", Value: "IMAGE"}, {Key: "BITPIX", Value: 8}, {Key: "NAXIS", Value: 1}, {Key: "NAXIS1", Value: -2880},
		{Key: "PCOUNT", Value: 0}, {Key: "GCOUNT", Value: 1}, {Key: "EXTNAME", Value: "JUNK"},
	} {
		ext.WriteString(testutil.FormatCard(c.Key, c.Value))
	}
	ext.WriteString(fmt.Sprintf("%-80s", "END"))
	for ext.Len()%2880 != 0 {
		ext.WriteByte(' ')
	}
	data := testutil.EncodeFITS(testutil.HDU{Cards: []testutil.KV{{Key: "EXPID", Value: 7}}})
	data = append(data, ext.String()...)
	data = append(data, testutil.EncodeFITS(testutil.HDU{}, testutil.HDU{Cards: []testutil.KV{{Key: "EXTNAME", Value: "CCD1"}}})[2880:]...)

	path := filepath.Join(t.TempDir(), "bad.fits")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	var logs bytes.Buffer
	cfg := baseConfig()
	cfg.ExtNames = []string{"CCD1"}
	e, err := New(cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)

	type result struct {
		perHDU []schema.Record
		err    error
	}
	done := make(chan result, 1)
	go func() {
		_, perHDU, err := e.Extract(path)
		done <- result{perHDU, err}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Empty(t, r.perHDU)
		assert.Contains(t, logs.String(), "negative NAXIS1")
	case <-time.After(5 * time.Second):
		t.Fatal("Extract did not stop at the malformed extension")
	}
}
