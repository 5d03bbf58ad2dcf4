package schema

import "time"

// Clock supplies the current time. Components read time only through an
// injected Clock so sweeps and daily resets are deterministic under test.
type Clock func() time.Time

// UTCNow is the production clock.
func UTCNow() time.Time {
	return time.Now().UTC()
}
