package ingest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/mholt/archiver/v3"
)

// GeometrySource is the single shapefile found in an extracted archive.
type GeometrySource struct {
	Path      string
	Encoding  string
	ShapeType shp.ShapeType
	Records   int
}

// Extractor expands a staged archive and locates its shapefile.
type Extractor struct {
	// MaxBytes caps the summed uncompressed size of all entries; 0 disables it.
	MaxBytes int64
	log      *slog.Logger
}

func NewExtractor(maxBytes int64, log *slog.Logger) *Extractor {
	return &Extractor{MaxBytes: maxBytes, log: log}
}

type unpacker interface {
	archiver.Unarchiver
	archiver.Walker
}

// Extract unpacks archive into dest, replacing anything already there, and
// returns the validated geometry source.
func (e *Extractor) Extract(archive string, format ArchiveFormat, dest string) (*GeometrySource, error) {
	if err := os.RemoveAll(dest); err != nil {
		return nil, fmt.Errorf("%w: clear %s: %v", ErrExtraction, dest, err)
	}
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrExtraction, dest, err)
	}

	var ua unpacker
	switch format {
	case FormatZip:
		z := archiver.NewZip()
		z.MkdirAll = true
		ua = z
	case FormatRar:
		r := archiver.NewRar()
		r.MkdirAll = true
		ua = r
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrExtraction, format)
	}
	if err := e.checkSize(ua, archive); err != nil {
		return nil, err
	}
	// archiver rejects entries that would land outside dest.
	if err := ua.Unarchive(archive, dest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	path, err := findShapefile(dest)
	if err != nil {
		return nil, err
	}
	if err := normaliseSidecars(path); err != nil {
		return nil, err
	}

	src := &GeometrySource{Path: strings.TrimSuffix(path, filepath.Ext(path)) + ".shp"}
	if err := validateShapefile(src); err != nil {
		return nil, err
	}
	src.Encoding = DetectEncoding(path, e.log)

	e.log.Debug("geometry source found",
		"path", path, "shape_type", src.ShapeType.String(), "records", src.Records, "encoding", src.Encoding)
	return src, nil
}

// checkSize sums the declared entry sizes before anything is written.
// archive/zip refuses to read past an entry's declared size, so the headers
// cannot understate what Unarchive will write.
func (e *Extractor) checkSize(ua unpacker, archive string) error {
	if e.MaxBytes <= 0 {
		return nil
	}
	var total int64
	err := ua.Walk(archive, func(f archiver.File) error {
		if !f.IsDir() {
			total += f.Size()
		}
		if total > e.MaxBytes {
			return archiver.ErrStopWalk
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if total > e.MaxBytes {
		return fmt.Errorf("%w: archive expands past %d bytes", ErrInvalidUpload, e.MaxBytes)
	}
	return nil
}

func findShapefile(root string) (string, error) {
	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, "._") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(name), ".shp") {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: scan: %v", ErrExtraction, err)
	}

	switch len(found) {
	case 0:
		return "", ErrNoGeometrySource
	case 1:
		return found[0], nil
	default:
		rel := make([]string, len(found))
		for i, f := range found {
			rel[i], _ = filepath.Rel(root, f)
		}
		return "", fmt.Errorf("%w: %s", ErrAmbiguousGeometrySource, strings.Join(rel, ", "))
	}
}

// normaliseSidecars lower-cases the extensions of the shapefile and its
// companions so tools that only look for ".dbf"/".shx" find them.
// It fails when .shx or .dbf is missing.
func normaliseSidecars(shpPath string) error {
	dir := filepath.Dir(shpPath)
	stem := strings.TrimSuffix(filepath.Base(shpPath), filepath.Ext(shpPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	have := map[string]bool{}
	for _, de := range entries {
		name := de.Name()
		ext := filepath.Ext(name)
		if !de.Type().IsRegular() || strings.TrimSuffix(name, ext) != stem {
			continue
		}
		lower := strings.ToLower(ext)
		have[lower] = true
		if ext != lower {
			if err := os.Rename(filepath.Join(dir, name), filepath.Join(dir, stem+lower)); err != nil {
				return fmt.Errorf("%w: %v", ErrExtraction, err)
			}
		}
	}
	for _, ext := range []string{".shx", ".dbf"} {
		if !have[ext] {
			return fmt.Errorf("%w: %s%s missing", ErrNoGeometrySource, stem, ext)
		}
	}
	return nil
}

// validateShapefile reads every record once so a truncated or null-typed file
// is rejected before anything in the database is touched.
func validateShapefile(src *GeometrySource) error {
	r, err := shp.Open(src.Path)
	if err != nil {
		return fmt.Errorf("%w: open: %v", ErrNoGeometrySource, err)
	}
	defer r.Close()

	if r.GeometryType == shp.NULL {
		return fmt.Errorf("%w: null shape type", ErrNoGeometrySource)
	}
	n := 0
	for r.Next() {
		n++
	}
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: read record %d: %v", ErrNoGeometrySource, n, err)
	}
	src.ShapeType = r.GeometryType
	src.Records = n
	return nil
}
