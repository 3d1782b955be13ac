package transit

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/gtfszip"
)

// servicesCacheLimit bounds the per-date active-service memo.
const servicesCacheLimit = 8

const dateKeyLayout = "20060102"

type calendarEntry struct {
	weekdays  [7]bool // indexed by time.Weekday
	startDate time.Time
	endDate   time.Time
}

type calendarException struct {
	ServiceID string
	Added     bool
}

var weekdayColumns = map[time.Weekday]string{
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
	time.Sunday:    "sunday",
}

func (idx *Index) loadCalendar(payload []byte) error {
	calendar, err := gtfszip.ReadTable(payload, "calendar.txt")
	if err != nil {
		return fmt.Errorf("loading calendar: %w", err)
	}
	for _, row := range calendar {
		serviceID := row["service_id"]
		if serviceID == "" {
			continue
		}
		var entry calendarEntry
		for weekday, column := range weekdayColumns {
			entry.weekdays[weekday] = row[column] == "1"
		}
		entry.startDate = parseYYYYMMDD(row["start_date"])
		entry.endDate = parseYYYYMMDD(row["end_date"])
		idx.calendar[serviceID] = entry
	}

	dates, err := gtfszip.ReadTable(payload, "calendar_dates.txt")
	if err != nil {
		return fmt.Errorf("loading calendar_dates: %w", err)
	}
	for _, row := range dates {
		serviceID := row["service_id"]
		dateKey := strings.TrimSpace(row["date"])
		excType := strings.TrimSpace(row["exception_type"])
		if serviceID == "" || dateKey == "" || excType == "" {
			continue
		}
		idx.calendarDates[dateKey] = append(idx.calendarDates[dateKey], calendarException{
			ServiceID: serviceID,
			Added:     excType == "1",
		})
	}
	return nil
}

// ActiveServicesForDay resolves the set of service ids running on the given
// calendar date: the weekly pattern within its date range, then add/remove
// exceptions applied on top. Results are memoized per date with the oldest
// entries evicted beyond the cache limit; callers get their own copy, never
// the memoized map.
func (idx *Index) ActiveServicesForDay(day time.Time) map[string]struct{} {
	key := day.Format(dateKeyLayout)

	idx.cacheMu.Lock()
	if cached, ok := idx.servicesCache[key]; ok {
		idx.cacheMu.Unlock()
		return maps.Clone(cached)
	}
	idx.cacheMu.Unlock()

	services := map[string]struct{}{}
	weekday := day.Weekday()
	for serviceID, entry := range idx.calendar {
		if !entry.startDate.IsZero() && dayBefore(day, entry.startDate) {
			continue
		}
		if !entry.endDate.IsZero() && dayBefore(entry.endDate, day) {
			continue
		}
		if entry.weekdays[weekday] {
			services[serviceID] = struct{}{}
		}
	}

	for _, exc := range idx.calendarDates[key] {
		if exc.Added {
			services[exc.ServiceID] = struct{}{}
		} else {
			delete(services, exc.ServiceID)
		}
	}

	idx.cacheMu.Lock()
	idx.servicesCache[key] = services
	if len(idx.servicesCache) > servicesCacheLimit {
		keys := make([]string, 0, len(idx.servicesCache))
		for k := range idx.servicesCache {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys[:len(keys)-servicesCacheLimit] {
			delete(idx.servicesCache, k)
		}
	}
	idx.cacheMu.Unlock()

	return maps.Clone(services)
}

// activeServicesWindow resolves yesterday/today/tomorrow relative to now. A
// late-night trip anchored to yesterday's service day can still be upcoming,
// and a trip anchored to today's can already be gone.
func (idx *Index) activeServicesWindow(now time.Time) map[time.Time]map[string]struct{} {
	out := make(map[time.Time]map[string]struct{}, 3)
	for _, offset := range []int{-1, 0, 1} {
		day := now.AddDate(0, 0, offset)
		out[day] = idx.ActiveServicesForDay(day)
	}
	return out
}

// dayBefore compares calendar dates only, ignoring the time of day.
func dayBefore(a, b time.Time) bool {
	return a.Format(dateKeyLayout) < b.Format(dateKeyLayout)
}

func parseYYYYMMDD(value string) time.Time {
	value = strings.TrimSpace(value)
	if len(value) != 8 {
		return time.Time{}
	}
	t, err := time.Parse(dateKeyLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
