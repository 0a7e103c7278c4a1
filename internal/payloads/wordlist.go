package payloads

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const maxWordlistLine = 1 << 20

// ReadWordlist reads one payload per line. Blank lines are skipped and CRLF endings are trimmed.
// It stops with an error once more than limit payloads were read (limit <= 0 disables the check).
func ReadWordlist(r io.Reader, limit int) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, bufio.MaxScanTokenSize), maxWordlistLine)

	var words []string
	for scanner.Scan() {
		word := strings.TrimRight(scanner.Text(), "\r")
		if word == "" {
			continue
		}
		words = append(words, word)
		if limit > 0 && len(words) > limit {
			return nil, fmt.Errorf("wordlist has more than %d entries", limit)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read wordlist: %w", err)
	}
	return words, nil
}

// WordlistFromFile loads a wordlist from the filesystem.
func WordlistFromFile(path string, limit int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadWordlist(file, limit)
}
