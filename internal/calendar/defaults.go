package calendar

// DefaultMarkets returns the built-in schedules and holiday tables for the
// supported markets. Config may override or extend these; adding a year to a
// holiday table is a data change only.
func DefaultMarkets() map[Market]MarketConfig {
	return map[Market]MarketConfig{
		MarketUS: {
			UTCOffsetMinutes: -5 * 60, // EST; DST rule adds an hour when active
			DST:              "us",
			PreOpen:          "04:00",
			Open:             "09:30",
			Close:            "16:00",
			EarlyClose:       "13:00",
			AfterHoursEnd:    "20:00",
			Holidays: map[int][]string{
				2025: {
					"2025-01-01", "2025-01-09", "2025-01-20", "2025-02-17",
					"2025-04-18", "2025-05-26", "2025-06-19", "2025-07-04",
					"2025-09-01", "2025-11-27", "2025-12-25",
				},
				2026: {
					"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03",
					"2026-05-25", "2026-06-19", "2026-07-03", "2026-09-07",
					"2026-11-26", "2026-12-25",
				},
			},
			EarlyCloseDays: map[int][]string{
				2025: {"2025-07-03", "2025-11-28", "2025-12-24"},
				2026: {"2026-11-27", "2026-12-24"},
			},
		},
		MarketKR: {
			UTCOffsetMinutes: 9 * 60, // KST, no DST
			PreOpen:          "08:00",
			Open:             "09:00",
			Close:            "15:30",
			AfterHoursEnd:    "18:00",
			Holidays: map[int][]string{
				2025: {
					"2025-01-01", "2025-01-27", "2025-01-28", "2025-01-29",
					"2025-01-30", "2025-03-03", "2025-05-01", "2025-05-05",
					"2025-05-06", "2025-06-03", "2025-06-06", "2025-08-15",
					"2025-10-03", "2025-10-06", "2025-10-07", "2025-10-08",
					"2025-10-09", "2025-12-25", "2025-12-31",
				},
				2026: {
					"2026-01-01", "2026-02-16", "2026-02-17", "2026-02-18",
					"2026-03-02", "2026-05-01", "2026-05-05", "2026-05-25",
					"2026-08-17", "2026-09-24", "2026-09-25", "2026-10-05",
					"2026-10-09", "2026-12-25", "2026-12-31",
				},
			},
		},
	}
}
