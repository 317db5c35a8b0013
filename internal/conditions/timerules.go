package conditions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nnipa/authz-service/pkg/types"
)

// Condition keys understood by time-window rules.
const (
	KeyAllowedHours   = "allowedHours"
	KeyAllowedDays    = "allowedDays"
	KeyTimezone       = "timezone"
	KeyDateRange      = "dateRange"
	KeyAllowedActions = "allowedActions"
)

// HourWindow is a daily window in minutes since midnight. Start is
// inclusive, End exclusive. End before Start wraps past midnight.
type HourWindow struct {
	Start int
	End   int
}

// Contains reports whether the minute-of-day falls inside the window.
func (w HourWindow) Contains(minute int) bool {
	if w.End >= w.Start {
		return minute >= w.Start && minute < w.End
	}
	return minute >= w.Start || minute < w.End
}

// TimeRules is the parsed form of a time-window policy's conditions. Absent
// constraints are nil and always hold.
type TimeRules struct {
	Hours          *HourWindow
	Days           map[time.Weekday]bool
	Location       *time.Location
	DateFrom       *time.Time
	DateTo         *time.Time
	AllowedActions []string
}

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday, "SUNDAY": time.Sunday,
	"MON": time.Monday, "MONDAY": time.Monday,
	"TUE": time.Tuesday, "TUESDAY": time.Tuesday,
	"WED": time.Wednesday, "WEDNESDAY": time.Wednesday,
	"THU": time.Thursday, "THURSDAY": time.Thursday,
	"FRI": time.Friday, "FRIDAY": time.Friday,
	"SAT": time.Saturday, "SATURDAY": time.Saturday,
}

// ParseTimeRules reads allowedHours ("HH:MM-HH:MM"), allowedDays
// ("MON,TUE,..."), timezone (IANA name), dateRange ("2006-01-02 to
// 2006-01-02", both days included) and allowedActions from the conditions.
func ParseTimeRules(conds types.Conditions) (*TimeRules, error) {
	rules := &TimeRules{Location: time.UTC}

	if tz := conds.String(KeyTimezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%s: unknown timezone %q", KeyTimezone, tz)
		}
		rules.Location = loc
	}

	if hours := conds.String(KeyAllowedHours); hours != "" {
		window, err := parseHourWindow(hours)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeyAllowedHours, err)
		}
		rules.Hours = window
	}

	if days := conds.String(KeyAllowedDays); days != "" {
		parsed, err := parseDays(days)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeyAllowedDays, err)
		}
		rules.Days = parsed
	}

	if dr := conds.String(KeyDateRange); dr != "" {
		from, to, err := parseDateRange(dr, rules.Location)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeyDateRange, err)
		}
		rules.DateFrom, rules.DateTo = from, to
	}

	if actions, ok := conds.StringList(KeyAllowedActions); ok {
		rules.AllowedActions = actions
	}
	return rules, nil
}

func parseHourWindow(s string) (*HourWindow, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed window %q", s)
	}
	start, err := parseClock(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}
	end, err := parseClock(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}
	return &HourWindow{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	return hour*60 + minute, nil
}

func parseDays(s string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool)
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToUpper(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown day %q", raw)
		}
		days[day] = true
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no days in %q", s)
	}
	return days, nil
}

func parseDateRange(s string, loc *time.Location) (*time.Time, *time.Time, error) {
	parts := strings.SplitN(s, " to ", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("malformed range %q", s)
	}
	from, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed date %q", parts[0])
	}
	to, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return nil, nil, fmt.Errorf("malformed date %q", parts[1])
	}
	if to.Before(from) {
		return nil, nil, fmt.Errorf("range %q ends before it starts", s)
	}
	return &from, &to, nil
}

// AppliesTo reports whether the rules scope to the action. An empty
// allowedActions list covers every action.
func (r *TimeRules) AppliesTo(action string) bool {
	if len(r.AllowedActions) == 0 {
		return true
	}
	for _, a := range r.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// Satisfied reports whether every present clock constraint holds at now,
// observed in the rules' timezone.
func (r *TimeRules) Satisfied(now time.Time) bool {
	local := now.In(r.Location)

	if r.Days != nil && !r.Days[local.Weekday()] {
		return false
	}
	if r.Hours != nil && !r.Hours.Contains(local.Hour()*60+local.Minute()) {
		return false
	}
	if r.DateFrom != nil {
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.Location)
		if day.Before(*r.DateFrom) || day.After(*r.DateTo) {
			return false
		}
	}
	return true
}
