package report

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ifc-inspector/inspector/internal/models"
)

// SortKey is a sortable column.
type SortKey string

const (
	SortNone         SortKey = ""
	SortTag          SortKey = "tag"
	SortType         SortKey = "type"
	SortPipeDiameter SortKey = "pipe_diameter_mm"
)

// ParseSortKey validates a column name.
func ParseSortKey(s string) (SortKey, bool) {
	switch k := SortKey(s); k {
	case SortTag, SortType, SortPipeDiameter:
		return k, true
	}
	return SortNone, false
}

// Row is one table line.
type Row struct {
	models.Instrument
	Evaluation
}

// Summary counts rows.
type Summary struct {
	Total   int
	Shown   int
	Passing int
	Failing int
}

// Table is a filtered, sorted view of a report's instruments.
type Table struct {
	instruments []models.Instrument
	filter      string
	key         SortKey
	desc        bool
}

// NewTable creates an unfiltered, unsorted table. A nil report gives an
// empty table.
func NewTable(r *models.Report) *Table {
	t := &Table{}
	if r != nil {
		t.instruments = r.Instruments
	}
	return t
}

// SetFilter keeps rows whose tag or type contains q, ignoring case.
func (t *Table) SetFilter(q string) {
	t.filter = strings.ToLower(strings.TrimSpace(q))
}

// SortBy sorts by key. Selecting the current key again flips the direction;
// a new key starts ascending.
func (t *Table) SortBy(key SortKey) {
	if key == t.key {
		t.desc = !t.desc
		return
	}
	t.key = key
	t.desc = false
}

// Sort returns the current sort key and direction.
func (t *Table) Sort() (key SortKey, desc bool) {
	return t.key, t.desc
}

// Rows returns the filtered, sorted rows.
func (t *Table) Rows() []Row {
	rows := make([]Row, 0, len(t.instruments))
	for _, in := range t.instruments {
		if !t.matches(in) {
			continue
		}
		rows = append(rows, Row{Instrument: in, Evaluation: Evaluate(in)})
	}

	if t.key != SortNone {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := sortValue(rows[i].Instrument, t.key), sortValue(rows[j].Instrument, t.key)
			if t.desc {
				return a > b
			}
			return a < b
		})
	}
	return rows
}

// Summary counts all and shown rows.
func (t *Table) Summary() Summary {
	s := Summary{Total: len(t.instruments)}
	for _, r := range t.Rows() {
		s.Shown++
		if r.Pass {
			s.Passing++
		} else {
			s.Failing++
		}
	}
	return s
}

func (t *Table) matches(in models.Instrument) bool {
	if t.filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(in.Tag), t.filter) ||
		strings.Contains(strings.ToLower(in.Type), t.filter)
}

// sortValue renders a column as text; values compare as strings.
func sortValue(in models.Instrument, key SortKey) string {
	switch key {
	case SortTag:
		return in.Tag
	case SortType:
		return in.Type
	case SortPipeDiameter:
		if in.PipeDiameterMM == nil {
			return ""
		}
		return strconv.FormatFloat(*in.PipeDiameterMM, 'f', -1, 64)
	}
	return ""
}
