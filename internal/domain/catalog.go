package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// SlotCatalog is the configured slot universe. Lookup order for a
// physiotherapist and date is: physiotherapist override, weekday override,
// default list.
type SlotCatalog struct {
	Default          []string
	Weekdays         map[time.Weekday][]string
	Physiotherapists map[string][]string
}

func NewSlotCatalog(defaults []string) *SlotCatalog {
	return &SlotCatalog{
		Default:          normalizeSlots(defaults),
		Weekdays:         map[time.Weekday][]string{},
		Physiotherapists: map[string][]string{},
	}
}

func (c *SlotCatalog) SetWeekday(wd time.Weekday, slots []string) {
	if c.Weekdays == nil {
		c.Weekdays = map[time.Weekday][]string{}
	}
	c.Weekdays[wd] = normalizeSlots(slots)
}

func (c *SlotCatalog) SetPhysiotherapist(physiotherapistID string, slots []string) {
	if c.Physiotherapists == nil {
		c.Physiotherapists = map[string][]string{}
	}
	c.Physiotherapists[physiotherapistID] = normalizeSlots(slots)
}

// Universe returns a copy of the ordered slot tokens bookable for the
// physiotherapist on date.
func (c *SlotCatalog) Universe(physiotherapistID string, date time.Time) []string {
	if c == nil {
		return nil
	}
	if slots, ok := c.Physiotherapists[physiotherapistID]; ok {
		return append([]string(nil), slots...)
	}
	if slots, ok := c.Weekdays[Day(date).Weekday()]; ok {
		return append([]string(nil), slots...)
	}
	return append([]string(nil), c.Default...)
}

func (c *SlotCatalog) Contains(physiotherapistID string, date time.Time, timeSlot string) bool {
	for _, s := range c.Universe(physiotherapistID, date) {
		if s == timeSlot {
			return true
		}
	}
	return false
}

// ParseWeekday accepts ISO numbers (1 = Monday .. 7 = Sunday), English names
// and their three letter abbreviations.
func ParseWeekday(s string) (time.Weekday, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(v); err == nil {
		if n < 1 || n > 7 {
			return 0, errors.New("invalid weekday")
		}
		return time.Weekday(n % 7), nil
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if v == name || v == name[:3] {
			return wd, nil
		}
	}
	return 0, errors.New("invalid weekday")
}

func normalizeSlots(slots []string) []string {
	seen := make(map[string]struct{}, len(slots))
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
