package ingest

import (
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	defaultEncoding  = "UTF-8"
	fallbackEncoding = "LATIN1"
	dbfSampleBytes   = 64 << 10
)

// Code page numbers written into .cpg files and chardet names htmlindex lacks.
var encodingAliases = map[string]string{
	"gb-18030": "gb18030",
	"65001":    "utf-8",
	"1250":     "windows-1250",
	"1251":     "windows-1251",
	"1252":     "windows-1252",
	"936":      "gbk",
	"932":      "shift_jis",
	"949":      "euc-kr",
	"950":      "big5",
}

// DetectEncoding picks the attribute encoding name passed to shp2pgsql -W.
// The .cpg sidecar wins; otherwise the .dbf records are sampled.
func DetectEncoding(shpPath string, log *slog.Logger) string {
	stem := strings.TrimSuffix(shpPath, ".shp")

	if raw, err := os.ReadFile(stem + ".cpg"); err == nil {
		declared := strings.TrimSpace(string(raw))
		if name, ok := canonicalEncoding(declared); ok {
			return name
		}
		log.Warn("unrecognised .cpg encoding, sampling dbf", "declared", declared)
	}

	sample, err := readDBFSample(stem + ".dbf")
	if err != nil {
		log.Warn("dbf sample failed, assuming utf-8", "error", err)
		return defaultEncoding
	}
	if utf8.Valid(sample) {
		return defaultEncoding
	}

	res, err := chardet.NewTextDetector().DetectBest(sample)
	if err == nil {
		if name, ok := canonicalEncoding(res.Charset); ok {
			return name
		}
	}
	// Every byte sequence is valid latin1, so the load still succeeds.
	log.Warn("could not identify dbf encoding", "fallback", fallbackEncoding)
	return fallbackEncoding
}

func canonicalEncoding(label string) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "", false
	}
	if alias, ok := encodingAliases[label]; ok {
		label = alias
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", false
	}
	name, err := htmlindex.Name(enc)
	if err != nil {
		return "", false
	}
	return strings.ToUpper(name), true
}

// readDBFSample returns record bytes after the dBASE header.
func readDBFSample(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hdr [12]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, err
	}
	headerLen := int64(binary.LittleEndian.Uint16(hdr[8:10]))
	if _, err := f.Seek(headerLen, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, dbfSampleBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
