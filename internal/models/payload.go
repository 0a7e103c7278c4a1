package models

// Position is a marker span in a request template, delimiters included.
// Start and End are byte offsets, End is exclusive.
type Position struct {
	ID    int    `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Name  string `json:"name"` // text between the delimiters
}

// Len returns the byte length of the span.
func (p Position) Len() int {
	return p.End - p.Start
}

// PayloadSetType describes where the payloads of a set come from
type PayloadSetType string

const (
	PayloadSimpleList       PayloadSetType = "simple_list"
	PayloadNumericRange     PayloadSetType = "numeric_range"
	PayloadSQLInjection     PayloadSetType = "sqli"
	PayloadXSS              PayloadSetType = "xss"
	PayloadPathTraversal    PayloadSetType = "path_traversal"
	PayloadCommandInjection PayloadSetType = "command_injection"
	PayloadCustom           PayloadSetType = "custom"
)

// IsCategory reports whether the type names a built-in catalog category.
func (t PayloadSetType) IsCategory() bool {
	switch t {
	case PayloadSQLInjection, PayloadXSS, PayloadPathTraversal, PayloadCommandInjection:
		return true
	}
	return false
}

// Valid reports whether t is a known payload set type.
func (t PayloadSetType) Valid() bool {
	switch t {
	case PayloadSimpleList, PayloadNumericRange, PayloadCustom:
		return true
	}
	return t.IsCategory()
}

// PayloadSet is an ordered, reusable sequence of payload strings.
// Order is significant: it is the substitution order.
type PayloadSet struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     PayloadSetType `json:"type"`
	Payloads []string       `json:"payloads"`
}

// Len returns the number of payloads in the set.
func (s *PayloadSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Payloads)
}

// PositionBinding associates one position with the payload set feeding it.
type PositionBinding struct {
	PositionID int         `json:"position_id"`
	PayloadSet *PayloadSet `json:"payload_set"`
}
