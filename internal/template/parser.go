package template

import (
	"strings"
	"unicode/utf8"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

// Delimiters finds the offsets of a marker within a template.
type Delimiters struct {
	Contents string
}

// Lookup returns the byte offsets of every occurrence of marker in O(n) time.
func (d *Delimiters) Lookup(marker rune) []int {
	offsets := []int{}
	width := utf8.RuneLen(marker)
	for from := 0; from < len(d.Contents); {
		i := strings.IndexRune(d.Contents[from:], marker)
		if i < 0 {
			break
		}
		offsets = append(offsets, from+i)
		from += i + width
	}
	return offsets
}

// Parse extracts the insertion positions of a template. Consecutive markers are paired left to right,
// so positions never overlap and come back ordered by Start. An odd marker count is a configuration error.
func Parse(template string, marker rune) ([]models.Position, error) {
	width := utf8.RuneLen(marker)
	if width < 0 || marker == utf8.RuneError {
		return nil, models.ConfigErr("parse template", models.ErrInvalidSettings, "invalid marker %q", marker)
	}

	d := &Delimiters{Contents: template}
	offsets := d.Lookup(marker)
	if len(offsets)%2 != 0 {
		return nil, models.ConfigErr("parse template", models.ErrMalformedTemplate,
			"%d markers, last unpaired marker at offset %d", len(offsets), offsets[len(offsets)-1])
	}

	positions := make([]models.Position, 0, len(offsets)/2)
	for i := 0; i < len(offsets); i += 2 {
		open, closing := offsets[i], offsets[i+1]
		positions = append(positions, models.Position{
			ID:    i / 2,
			Start: open,
			End:   closing + width,
			Name:  template[open+width : closing],
		})
	}
	return positions, nil
}

// MarkerRune converts a configured marker string to a rune, defaulting to models.DefaultMarker.
func MarkerRune(marker string) (rune, error) {
	if marker == "" {
		return models.DefaultMarker, nil
	}
	r, size := utf8.DecodeRuneInString(marker)
	if r == utf8.RuneError || size != len(marker) {
		return 0, models.ConfigErr("parse marker", models.ErrInvalidSettings, "marker must be a single character, got %q", marker)
	}
	return r, nil
}
