package runner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SlotTime is a daily run time in the scheduler's zone.
type SlotTime struct {
	Hour   int
	Minute int
}

func (s SlotTime) String() string {
	return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
}

// ParseSlots parses HH:MM values, sorted and without duplicates.
func ParseSlots(values []string) ([]SlotTime, error) {
	seen := map[SlotTime]bool{}

	var ans []SlotTime

	for _, v := range values {
		h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
		if !ok {
			return nil, fmt.Errorf("invalid schedule time %q: expected HH:MM", v)
		}

		hour, err := strconv.Atoi(h)
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("invalid schedule hour in %q", v)
		}

		minute, err := strconv.Atoi(m)
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid schedule minute in %q", v)
		}

		s := SlotTime{Hour: hour, Minute: minute}
		if seen[s] {
			continue
		}

		seen[s] = true

		ans = append(ans, s)
	}

	if len(ans) == 0 {
		return nil, fmt.Errorf("schedule is empty")
	}

	sort.Slice(ans, func(i, j int) bool {
		if ans[i].Hour != ans[j].Hour {
			return ans[i].Hour < ans[j].Hour
		}

		return ans[i].Minute < ans[j].Minute
	})

	return ans, nil
}

// DueSlot is one occurrence of a SlotTime on a given day.
type DueSlot struct {
	Key string
	At  time.Time
}

// SlotKey identifies one occurrence, e.g. 2026-10-19T09:00.
func SlotKey(at time.Time) string {
	return at.Format("2006-01-02T15:04")
}

// DueSlots returns today's occurrences in loc that are at or before now.
func DueSlots(now time.Time, loc *time.Location, slots []SlotTime) []DueSlot {
	local := now.In(loc)

	var ans []DueSlot

	for _, s := range slots {
		at := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc)
		if at.After(local) {
			continue
		}

		ans = append(ans, DueSlot{Key: SlotKey(at), At: at})
	}

	return ans
}
