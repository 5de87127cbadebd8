package log

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"dupeguard.ai/internal/engine/incidents"
)

// Files lists archive files for prefix in dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ScanFile decodes one archive file line by line.
func ScanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadIncidents returns archived incidents oldest first. limit<=0 means all;
// otherwise only the newest limit entries are kept.
func ReadIncidents(dir string, limit int) ([]incidents.Entry, error) {
	files, err := Files(dir, IncidentPrefix)
	if err != nil {
		return nil, err
	}
	var out []incidents.Entry
	for _, p := range files {
		err := ScanFile(p, func(line []byte) error {
			var e incidents.Entry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			out = append(out, e)
			if limit > 0 && len(out) > limit {
				out = out[1:]
			}
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
