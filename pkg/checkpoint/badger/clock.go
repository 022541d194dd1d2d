package badger

import "time"

// nowUTC is swappable in tests.
var nowUTC = func() time.Time {
	return time.Now().UTC()
}
