package capture

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Source is the raw content of one recording file. Name is the file's base
// name without compression suffix, the same name the footer chain uses.
type Source struct {
	Name string
	Path string
	Data []byte
}

// ReadSources loads the recordings stored at p. Plain .json files yield one
// source; .gz and .zst files are decompressed; .zip archives yield one source
// per .json member, in member name order.
func ReadSources(p string) ([]Source, error) {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return readZip(p)
	case strings.HasSuffix(lower, ".gz"):
		data, err := readCompressed(p, func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) })
		if err != nil {
			return nil, err
		}
		return []Source{{Name: trimCompression(filepath.Base(p)), Path: p, Data: data}}, nil
	case strings.HasSuffix(lower, ".zst"):
		data, err := readCompressed(p, func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		})
		if err != nil {
			return nil, err
		}
		return []Source{{Name: trimCompression(filepath.Base(p)), Path: p, Data: data}}, nil
	default:
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return []Source{{Name: filepath.Base(p), Path: p, Data: data}}, nil
	}
}

func readCompressed(p string, open func(io.Reader) (io.ReadCloser, error)) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rc, err := open(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func readZip(p string) ([]Source, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out []Source
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in %s: %w", f.Name, p, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s in %s: %w", f.Name, p, err)
		}
		out = append(out, Source{Name: path.Base(f.Name), Path: p + "!" + f.Name, Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func trimCompression(name string) string {
	for _, ext := range []string{".gz", ".zst"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
