package calendar

import (
	"fmt"
	"time"
)

// Market identifies a supported exchange. Schedules and holiday tables are
// injected at construction so tests can substitute synthetic calendars.
type Market string

const (
	MarketUS Market = "US"
	MarketKR Market = "KR"
)

// SessionState is the current trading phase of a market. It is derived from
// the clock and the market schedule, never stored.
type SessionState string

const (
	SessionPreMarket  SessionState = "pre_market"
	SessionOpen       SessionState = "open"
	SessionAfterHours SessionState = "after_hours"
	SessionClosed     SessionState = "closed"
)

// Date is a calendar date in a market's local time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// MarketConfig describes one market's schedule in YAML-friendly form.
// Clock fields use "HH:MM" local time. Holiday and early-close tables are
// keyed by year so a new year's closures are a data change, not a code change.
type MarketConfig struct {
	UTCOffsetMinutes int              `yaml:"utc_offset_minutes"`
	DST              string           `yaml:"dst"` // "" (none) or "us"
	PreOpen          string           `yaml:"pre_open"`
	Open             string           `yaml:"open"`
	Close            string           `yaml:"close"`
	EarlyClose       string           `yaml:"early_close"` // optional
	AfterHoursEnd    string           `yaml:"after_hours_end"`
	Holidays         map[int][]string `yaml:"holidays"`
	EarlyCloseDays   map[int][]string `yaml:"early_close_days"`
}

type schedule struct {
	baseOffsetMin int
	usDST         bool
	preOpenMin    int
	openMin       int
	closeMin      int
	earlyCloseMin int // 0 when the market has no early-close rule
	afterEndMin   int
	holidays      map[Date]bool
	earlyDays     map[Date]bool
}

// Calendar computes session state for configured markets. Pure computation,
// no I/O; the only failure mode is an unknown market, which callers treat as
// a programmer error.
type Calendar struct {
	markets map[Market]*schedule
}

// New builds a Calendar from per-market configuration.
func New(cfgs map[Market]MarketConfig) (*Calendar, error) {
	c := &Calendar{markets: make(map[Market]*schedule, len(cfgs))}
	for m, cfg := range cfgs {
		sch, err := buildSchedule(cfg)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", m, err)
		}
		c.markets[m] = sch
	}
	return c, nil
}

func buildSchedule(cfg MarketConfig) (*schedule, error) {
	sch := &schedule{
		baseOffsetMin: cfg.UTCOffsetMinutes,
		usDST:         cfg.DST == "us",
		holidays:      map[Date]bool{},
		earlyDays:     map[Date]bool{},
	}
	var err error
	if sch.preOpenMin, err = parseClock(cfg.PreOpen); err != nil {
		return nil, err
	}
	if sch.openMin, err = parseClock(cfg.Open); err != nil {
		return nil, err
	}
	if sch.closeMin, err = parseClock(cfg.Close); err != nil {
		return nil, err
	}
	if sch.afterEndMin, err = parseClock(cfg.AfterHoursEnd); err != nil {
		return nil, err
	}
	if cfg.EarlyClose != "" {
		if sch.earlyCloseMin, err = parseClock(cfg.EarlyClose); err != nil {
			return nil, err
		}
	}
	if !(sch.preOpenMin <= sch.openMin && sch.openMin < sch.closeMin && sch.closeMin <= sch.afterEndMin) {
		return nil, fmt.Errorf("session breakpoints out of order: pre=%d open=%d close=%d after=%d",
			sch.preOpenMin, sch.openMin, sch.closeMin, sch.afterEndMin)
	}
	for _, days := range cfg.Holidays {
		for _, s := range days {
			d, err := ParseDate(s)
			if err != nil {
				return nil, err
			}
			sch.holidays[d] = true
		}
	}
	for _, days := range cfg.EarlyCloseDays {
		for _, s := range days {
			d, err := ParseDate(s)
			if err != nil {
				return nil, err
			}
			sch.earlyDays[d] = true
		}
	}
	return sch, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Markets lists the configured markets.
func (c *Calendar) Markets() []Market {
	out := make([]Market, 0, len(c.markets))
	for m := range c.markets {
		out = append(out, m)
	}
	return out
}

// Known reports whether a market is configured.
func (c *Calendar) Known(m Market) bool {
	_, ok := c.markets[m]
	return ok
}

// SessionState returns the trading phase of market m at the given instant.
func (c *Calendar) SessionState(m Market, at time.Time) (SessionState, error) {
	sch, ok := c.markets[m]
	if !ok {
		return SessionClosed, fmt.Errorf("unknown market %q", m)
	}
	loc := sch.localTime(at)
	d := Date{Year: loc.Year(), Month: loc.Month(), Day: loc.Day()}
	if sch.nonTrading(loc.Weekday(), d) {
		return SessionClosed, nil
	}
	mins := loc.Hour()*60 + loc.Minute()
	closeMin := sch.closeMin
	if sch.earlyCloseMin > 0 && sch.earlyDays[d] {
		// Early close shrinks the regular session only; pre-market and
		// after-hours windows keep their standard bounds.
		closeMin = sch.earlyCloseMin
	}
	switch {
	case mins < sch.preOpenMin:
		return SessionClosed, nil
	case mins < sch.openMin:
		return SessionPreMarket, nil
	case mins < closeMin:
		return SessionOpen, nil
	case mins < sch.afterEndMin:
		return SessionAfterHours, nil
	default:
		return SessionClosed, nil
	}
}

// LastTradingDate returns the most recent date on which market m traded,
// as of the given instant. During a trading day's own pre-market, session and
// after-hours that date is today; otherwise it walks backward over weekends
// and holidays.
func (c *Calendar) LastTradingDate(m Market, at time.Time) (Date, error) {
	sch, ok := c.markets[m]
	if !ok {
		return Date{}, fmt.Errorf("unknown market %q", m)
	}
	loc := sch.localTime(at)
	d := Date{Year: loc.Year(), Month: loc.Month(), Day: loc.Day()}
	if !sch.nonTrading(loc.Weekday(), d) {
		mins := loc.Hour()*60 + loc.Minute()
		if mins >= sch.preOpenMin {
			return d, nil
		}
	}
	return sch.walkBack(d), nil
}

func (s *schedule) nonTrading(wd time.Weekday, d Date) bool {
	if wd == time.Saturday || wd == time.Sunday {
		return true
	}
	return s.holidays[d]
}

// walkBack returns the closest trading day strictly before d.
func (s *schedule) walkBack(d Date) Date {
	t := time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	for {
		t = t.AddDate(0, 0, -1)
		prev := Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
		if !s.nonTrading(t.Weekday(), prev) {
			return prev
		}
	}
}

func (s *schedule) localTime(at time.Time) time.Time {
	offset := s.baseOffsetMin
	if s.usDST && usDSTActive(at) {
		offset += 60
	}
	return at.In(time.FixedZone("", offset*60))
}

// usDSTActive reports whether US daylight saving is in effect at the given
// instant: from the second Sunday of March 02:00 local (07:00 UTC) to the
// first Sunday of November 02:00 local (06:00 UTC). Computed analytically so
// the result does not depend on a TZ database.
func usDSTActive(at time.Time) bool {
	utc := at.UTC()
	y := utc.Year()
	start := time.Date(y, time.March, nthSunday(y, time.March, 2), 7, 0, 0, 0, time.UTC)
	end := time.Date(y, time.November, nthSunday(y, time.November, 1), 6, 0, 0, 0, time.UTC)
	return !utc.Before(start) && utc.Before(end)
}

// nthSunday returns the day of month of the nth Sunday of the given month.
func nthSunday(year int, month time.Month, n int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	day := 1 + (7-int(first.Weekday()))%7
	return day + (n-1)*7
}
