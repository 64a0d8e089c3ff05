package aggregate

import (
	"strings"
	"time"
)

// Namer supplies localized month and weekday names for labels. Months
// are 1..12, weekdays 1 (Sunday) .. 7 (Saturday).
type Namer interface {
	MonthName(month int) string
	WeekdayName(weekday int) string
}

type english struct{}

func (english) MonthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	return time.Month(m).String()
}

func (english) WeekdayName(d int) string {
	if d < 1 || d > 7 {
		return ""
	}
	return time.Weekday(d - 1).String()
}

type turkish struct{}

var (
	turkishMonths = [...]string{
		"Ocak", "Şubat", "Mart", "Nisan", "Mayıs", "Haziran",
		"Temmuz", "Ağustos", "Eylül", "Ekim", "Kasım", "Aralık",
	}
	turkishWeekdays = [...]string{
		"Pazar", "Pazartesi", "Salı", "Çarşamba", "Perşembe", "Cuma", "Cumartesi",
	}
)

func (turkish) MonthName(m int) string {
	if m < 1 || m > 12 {
		return ""
	}
	return turkishMonths[m-1]
}

func (turkish) WeekdayName(d int) string {
	if d < 1 || d > 7 {
		return ""
	}
	return turkishWeekdays[d-1]
}

var (
	English Namer = english{}
	Turkish Namer = turkish{}
)

// NamerFor picks a Namer from a locale tag such as "tr" or "tr-TR".
// Unknown locales fall back to English.
func NamerFor(locale string) Namer {
	lang, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(locale)), "-")
	if lang == "tr" {
		return Turkish
	}
	return English
}
