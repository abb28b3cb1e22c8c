package calendar

import (
	"errors"
	"fmt"
)

// ErrNotModified is returned by the fetcher when the feed host answers 304;
// callers keep the stored events untouched.
var ErrNotModified = errors.New("feed not modified")

// ErrNoFeedURL marks a unit without an inbound feed; sync skips it without
// touching its stored events.
var ErrNoFeedURL = errors.New("unit has no feed url")

// FetchError wraps transport and HTTP-status failures for one feed URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError marks a feed body that could not be interpreted as iCalendar
// data. A parse failure must never trigger deletions downstream.
type ParseError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }
