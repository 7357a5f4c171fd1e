package common

import (
	"fmt"
	"time"
)

// Dates and datetimes are bit packed so unsigned order is time order.
//
//	date:     year(16) month(4) day(6) 0x3E(6)
//	datetime: year(16) month(4) day(6) hour(6) minute(6) second(6) usec(20)

func MakeDate(year, month, day int) uint32 {
	return uint32(year)<<16 | uint32(month)<<12 | uint32(day)<<6 | 0x3E
}

func DateParts(v uint32) (year, month, day int) {
	return int(v >> 16), int((v >> 12) & 0xF), int((v >> 6) & 0x3F)
}

func MakeDatetime(year, month, day, hour, minute, second, usec int) uint64 {
	return uint64(year)<<48 | uint64(month)<<44 | uint64(day)<<38 |
		uint64(hour)<<32 | uint64(minute)<<26 | uint64(second)<<20 | uint64(usec)
}

func DatetimeParts(v uint64) (year, month, day, hour, minute, second, usec int) {
	return int(v >> 48), int((v >> 44) & 0xF), int((v >> 38) & 0x3F),
		int((v >> 32) & 0x3F), int((v >> 26) & 0x3F), int((v >> 20) & 0x3F),
		int(v & 0xFFFFF)
}

// MakeTimestamp packs unix seconds and microseconds.
func MakeTimestamp(sec int64, usec int) uint64 {
	return uint64(sec)<<20 | uint64(usec)
}

func DateToDatetime(v uint32) uint64 {
	y, m, d := DateParts(v)
	return MakeDatetime(y, m, d, 0, 0, 0, 0)
}

func FormatDate(v uint32) string {
	y, m, d := DateParts(v)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func FormatDatetime(v uint64) string {
	y, mo, d, h, mi, s, us := DatetimeParts(v)
	if us == 0 {
		return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", y, mo, d, h, mi, s)
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", y, mo, d, h, mi, s, us)
}

func FormatTimestamp(v uint64) string {
	return time.Unix(int64(v>>20), int64(v&0xFFFFF)*1000).UTC().Format("2006-01-02 15:04:05.999999")
}

// FormatTime renders a signed microsecond duration.
func FormatTime(v int64) string {
	return time.Duration(v * int64(time.Microsecond)).String()
}
