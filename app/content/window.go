package content

import (
	"fmt"
	"time"
)

type Window string

const (
	WindowShort  Window = "1h"
	WindowMedium Window = "3h"
	WindowLong   Window = "6h"
)

var windowBounds = []struct {
	window Window
	maxAge time.Duration
}{
	{WindowShort, time.Hour},
	{WindowMedium, 3 * time.Hour},
	{WindowLong, 6 * time.Hour},
}

func ParseWindow(s string) (Window, error) {
	switch s {
	case "1h", "short":
		return WindowShort, nil
	case "3h", "medium":
		return WindowMedium, nil
	case "6h", "long":
		return WindowLong, nil
	}
	return "", fmt.Errorf("unknown trending window '%s'", s)
}

// MaxAge is the upper age bound of the window.
func (w Window) MaxAge() time.Duration {
	for _, b := range windowBounds {
		if b.window == w {
			return b.maxAge
		}
	}
	return 0
}

// WindowFor buckets an item by the age of discoveredAt at now. Items from
// the future count as age zero; items older than the long window belong to
// no window.
func WindowFor(discoveredAt, now time.Time) (Window, bool) {
	age := now.Sub(discoveredAt)
	if age < 0 {
		age = 0
	}
	for _, b := range windowBounds {
		if age <= b.maxAge {
			return b.window, true
		}
	}
	return "", false
}
