package membership

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// maxWordListLine bounds a single line of an uploaded word list.
const maxWordListLine = 64 << 10

// ParseWordList reads a plain-text word list. Words are separated by
// whitespace, commas, semicolons or colons; they are trimmed and
// lower-cased, and blanks are skipped. Duplicates are kept; BulkAdd drops
// them.
func ParseWordList(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxWordListLine)

	words := []string{}
	for sc.Scan() {
		fields := strings.FieldsFunc(sc.Text(), isWordSeparator)
		for _, f := range fields {
			if w := strings.ToLower(strings.TrimSpace(f)); w != "" {
				words = append(words, w)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	return words, nil
}

func isWordSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':'
}
