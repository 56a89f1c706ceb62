package monitor

import "time"

// InCloseWindow reports whether now falls inside the bar-close evaluation
// window for the given bar length: the minute-of-hour is aligned to the bar
// and the seconds sit inside [openSec, closeSec], a buffer that absorbs
// upstream publication delay.
//
// Only intraday bar lengths that divide an hour are meaningful here; other
// values never open a window.
func InCloseWindow(now time.Time, bar time.Duration, openSec, closeSec int) bool {
	barMin := int(bar / time.Minute)
	if barMin <= 0 || barMin > 60 || 60%barMin != 0 {
		return false
	}
	if now.Minute()%barMin != 0 {
		return false
	}
	s := now.Second()
	return s >= openSec && s <= closeSec
}
