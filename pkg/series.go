package pixie

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	BinaryExt   = "bin"
	MetadataExt = "ifm"
)

const seriesDigits = 4

// SeriesFile builds the name of the n-th file of a series: <base><NNNN>.<ext>
func SeriesFile(base string, n int, ext string) string {
	return fmt.Sprintf("%s%04d.%s", base, n, ext)
}

func seriesFileExists(base string, n int, ext string) bool {
	info, err := os.Stat(SeriesFile(base, n, ext))
	return err == nil && !info.IsDir()
}

// SeriesPaths lists the files of a series starting at 0001 and stopping at
// the first missing number.
func SeriesPaths(base string, ext string) []string {
	paths := make([]string, 0)
	for n := 1; seriesFileExists(base, n, ext); n++ {
		paths = append(paths, SeriesFile(base, n, ext))
	}
	return paths
}

// SeriesBasename turns a selected file of a series (e.g. run-0001.bin) into
// the series base (run-). Paths that do not end in a 4-digit counter are
// returned unchanged, so a base can be given directly.
func SeriesBasename(path string) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	if ext == "" || len(stem) < seriesDigits {
		return path
	}
	counter := stem[len(stem)-seriesDigits:]
	for _, c := range counter {
		if c < '0' || c > '9' {
			return path
		}
	}
	return stem[:len(stem)-seriesDigits]
}
