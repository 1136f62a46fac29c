// Timestamp conversions between the kernel's microsecond epoch convention
// and time.Time. Every MarketEvent and inbound update carries
// microseconds, not nanoseconds, so these helpers keep the rescaling in
// one place rather than repeated at each call site.
package mdkernel

import "time"

// MicrosToTime converts a microsecond Unix timestamp to time.Time.
func MicrosToTime(micros int64) time.Time {
	secs := micros / 1_000_000
	rem := micros - secs*1_000_000
	return time.Unix(secs, rem*1_000)
}

// TimeToMicros converts a time.Time to a microsecond Unix timestamp.
func TimeToMicros(t time.Time) int64 {
	return t.Unix()*1_000_000 + int64(t.Nanosecond())/1_000
}

// NowMicros returns the current wall-clock time as microseconds since
// the epoch. Collectors prefer event-carried timestamps over this for
// their hot-path logic; it exists for adapters and ambient logging.
func NowMicros() int64 {
	return TimeToMicros(time.Now())
}
