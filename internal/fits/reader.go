package fits

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ReadHeader reads the header of HDU number hdu (0 is the primary HDU).
func ReadHeader(path string, hdu int) (*Header, error) {
	if hdu < 0 {
		return nil, fmt.Errorf("fits: invalid HDU %d", hdu)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fits: %w", err)
	}
	defer f.Close()

	return readHeaderAt(f, path, hdu)
}

func readHeaderAt(r io.ReadSeeker, path string, hdu int) (*Header, error) {
	for n := 0; ; n++ {
		h, err := readOneHeader(r, path, n)
		if err != nil {
			return nil, err
		}
		if n == hdu {
			return h, nil
		}
		size, err := h.dataSize(n == 0)
		if err != nil {
			return nil, &FormatError{Path: path, HDU: n, Message: err.Error()}
		}
		if size < 0 {
			return nil, &FormatError{Path: path, HDU: n, Message: fmt.Sprintf("invalid data size %d", size)}
		}
		if _, err := r.Seek(size, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("fits: %s: skip data of HDU %d: %w", path, n, err)
		}
	}
}

func readOneHeader(r io.Reader, path string, n int) (*Header, error) {
	h := newHeader()
	// Unbuffered: the caller seeks relative to the end of the header
	block := make([]byte, blockSize)

	for blocks := 0; ; blocks++ {
		if _, err := io.ReadFull(r, block); err != nil {
			if blocks == 0 && n > 0 && errors.Is(err, io.EOF) {
				return nil, ErrNoSuchHDU
			}
			return nil, &FormatError{Path: path, HDU: n, Message: "truncated header"}
		}
		if blocks == 0 {
			if err := checkFirstCard(string(block[:cardSize]), n); err != nil {
				return nil, &FormatError{Path: path, HDU: n, Message: err.Error()}
			}
		}
		for off := 0; off < blockSize; off += cardSize {
			card, end, err := parseCard(string(block[off : off+cardSize]))
			if err != nil {
				return nil, &FormatError{Path: path, HDU: n, Message: err.Error()}
			}
			if end {
				return h, nil
			}
			if card.Key != "" {
				h.add(card)
			}
		}
	}
}

func checkFirstCard(raw string, n int) error {
	key := raw[:8]
	if n == 0 {
		if key != "SIMPLE  " {
			return errors.New("not a FITS file: first keyword is not SIMPLE")
		}
		return nil
	}
	if key != "XTENSION" {
		return errors.New("extension does not start with XTENSION")
	}
	return nil
}
