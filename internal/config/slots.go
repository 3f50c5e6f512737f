package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"physiodesk/backend/internal/domain"
)

// Half-hour sessions across a clinic day, lunch excluded.
var defaultSlots = []string{
	"09:00", "09:30", "10:00", "10:30", "11:00", "11:30",
	"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00", "16:30",
}

// loadSlotCatalog reads booking.slots.default plus the optional
// booking.slots.weekdays.<day> overrides and the booking.slots.physiotherapists
// list of {id, slots} entries. An override set to an empty list closes that
// day. Physiotherapist ids are list values rather than map keys because viper
// lowercases keys.
func loadSlotCatalog(v *viper.Viper) (*domain.SlotCatalog, error) {
	defaults, err := slotList(v.Get("booking.slots.default"))
	if err != nil {
		return nil, fmt.Errorf("booking.slots.default: %w", err)
	}
	catalog := domain.NewSlotCatalog(defaults)

	for day, raw := range v.GetStringMap("booking.slots.weekdays") {
		wd, err := domain.ParseWeekday(day)
		if err != nil {
			return nil, fmt.Errorf("booking.slots.weekdays.%s: %w", day, err)
		}
		slots, err := slotList(raw)
		if err != nil {
			return nil, fmt.Errorf("booking.slots.weekdays.%s: %w", day, err)
		}
		catalog.SetWeekday(wd, slots)
	}

	overrides, err := physiotherapistOverrides(v.Get("booking.slots.physiotherapists"))
	if err != nil {
		return nil, fmt.Errorf("booking.slots.physiotherapists: %w", err)
	}
	for id, slots := range overrides {
		catalog.SetPhysiotherapist(id, slots)
	}
	return catalog, nil
}

func physiotherapistOverrides(raw any) (map[string][]string, error) {
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", raw)
	}
	out := make(map[string][]string, len(entries))
	for i, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry %d: expected a mapping, got %T", i, e)
		}
		id, _ := m["id"].(string)
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("entry %d: id is required", i)
		}
		slots, err := slotList(m["slots"])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[id] = slots
	}
	return out, nil
}

// slotList accepts a YAML sequence or a comma separated string, the form
// environment variables arrive in.
func slotList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("slot %v is not a string", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported slot list type %T", raw)
}
