package scheduling

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day in minutes after midnight.
type Clock int

func ParseClock(s string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// SlotLabel is one interval of the clinic day, written "HH:MM-HH:MM".
type SlotLabel struct {
	Start Clock
	End   Clock
}

// ParseSlotLabel only checks the shape of the label. Use Grid.Lookup to make
// sure the label is one the clinic actually books.
func ParseSlotLabel(s string) (SlotLabel, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return SlotLabel{}, fmt.Errorf("slot %q: want HH:MM-HH:MM", s)
	}
	start, err := ParseClock(from)
	if err != nil {
		return SlotLabel{}, err
	}
	end, err := ParseClock(to)
	if err != nil {
		return SlotLabel{}, err
	}
	if end <= start {
		return SlotLabel{}, fmt.Errorf("slot %q: end must be after start", s)
	}
	return SlotLabel{Start: start, End: end}, nil
}

func (s SlotLabel) String() string {
	return s.Start.String() + "-" + s.End.String()
}

func (s SlotLabel) IsZero() bool {
	return s == SlotLabel{}
}

func (s SlotLabel) Before(o SlotLabel) bool {
	return s.Start < o.Start
}

func (s SlotLabel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SlotLabel) UnmarshalText(b []byte) error {
	parsed, err := ParseSlotLabel(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func SortSlots(slots []SlotLabel) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
}

func SlotStrings(slots []SlotLabel) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.String())
	}
	return out
}

// Grid is the canonical, ordered set of slot labels shared by every dentist,
// unit and day. It is immutable once built.
type Grid struct {
	labels []SlotLabel
	index  map[SlotLabel]int
}

// DefaultGrid is the clinic day 10:00-19:00 in one-hour slots.
func DefaultGrid() *Grid {
	g, _ := NewGrid(10*60, 19*60, time.Hour)
	return g
}

func NewGrid(opens, closes Clock, step time.Duration) (*Grid, error) {
	minutes := int(step / time.Minute)
	if minutes <= 0 {
		return nil, fmt.Errorf("slot length must be at least one minute, got %s", step)
	}
	if closes <= opens {
		return nil, fmt.Errorf("clinic closes (%s) before it opens (%s)", closes, opens)
	}
	if int(closes-opens)%minutes != 0 {
		return nil, fmt.Errorf("clinic day %s-%s is not a multiple of %d minutes", opens, closes, minutes)
	}
	var labels []SlotLabel
	for c := opens; c < closes; c += Clock(minutes) {
		labels = append(labels, SlotLabel{Start: c, End: c + Clock(minutes)})
	}
	return newGrid(labels), nil
}

// NewGridFromLabels builds a grid from explicit labels. Duplicates and
// overlapping labels are rejected.
func NewGridFromLabels(raw []string) (*Grid, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("grid needs at least one slot")
	}
	labels := make([]SlotLabel, 0, len(raw))
	for _, r := range raw {
		l, err := ParseSlotLabel(r)
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	SortSlots(labels)
	for i := 1; i < len(labels); i++ {
		if labels[i].Start < labels[i-1].End {
			return nil, fmt.Errorf("slots %s and %s overlap", labels[i-1], labels[i])
		}
	}
	return newGrid(labels), nil
}

func newGrid(labels []SlotLabel) *Grid {
	g := &Grid{labels: labels, index: make(map[SlotLabel]int, len(labels))}
	for i, l := range labels {
		g.index[l] = i
	}
	return g
}

// Labels returns a copy of the grid in clinic order.
func (g *Grid) Labels() []SlotLabel {
	out := make([]SlotLabel, len(g.labels))
	copy(out, g.labels)
	return out
}

func (g *Grid) Contains(s SlotLabel) bool {
	_, ok := g.index[s]
	return ok
}

// Lookup parses raw and checks it against the grid.
func (g *Grid) Lookup(raw string) (SlotLabel, error) {
	s, err := ParseSlotLabel(raw)
	if err != nil {
		return SlotLabel{}, &ValidationError{Field: "slot", Reason: err.Error()}
	}
	if !g.Contains(s) {
		return SlotLabel{}, &ValidationError{Field: "slot", Reason: fmt.Sprintf("%s is not a clinic slot", s)}
	}
	return s, nil
}

// LookupAll validates every label and drops duplicates, keeping grid order.
func (g *Grid) LookupAll(raw []string) ([]SlotLabel, error) {
	seen := make(map[SlotLabel]bool, len(raw))
	out := make([]SlotLabel, 0, len(raw))
	for _, r := range raw {
		s, err := g.Lookup(r)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	SortSlots(out)
	return out, nil
}

const dateLayout = "2006-01-02"

// Date is a clinic calendar day in YYYY-MM-DD form.
type Date string

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", &ValidationError{Field: "date", Reason: "want YYYY-MM-DD"}
	}
	return Date(t.Format(dateLayout)), nil
}

func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

func (d Date) String() string { return string(d) }

func (d Date) Before(o Date) bool { return d < o }

// Scan accepts DATE columns as drivers hand them back: time.Time from
// Postgres, text or time.Time from sqlite.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = DateOf(v)
	case string:
		return d.scanText(v)
	case []byte:
		return d.scanText(string(v))
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
	return nil
}

func (d *Date) scanText(s string) error {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return fmt.Errorf("scan date %q: %w", s, err)
	}
	*d = parsed
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d == "" {
		return nil, nil
	}
	return string(d), nil
}
