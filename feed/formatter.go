// Package feed pushes display lines to downstream consumers over UDP
// and TCP. Lines are ASCII, comma separated, CRLF terminated, with the
// total line length patched into bytes 8..10 of the fixed-width prefix.
package feed

import (
	"fmt"
	"time"
)

const timeLayout = "20060102150405.000"

// patchLen writes the decimal line length over the prefix padding at
// bytes 8..10. Consumers use it to split a TCP stream without scanning
// for the terminator.
func patchLen(b []byte) []byte {
	n := len(b)
	if n >= 100 {
		b[8] = byte('0' + n/100)
	}
	b[9] = byte('0' + n/10%10)
	b[10] = byte('0' + n%10)
	return b
}

// FormatPosition renders one position fix as a display line.
func FormatPosition(id int64, ts int64, seq uint16, x, y float64) []byte {
	line := fmt.Sprintf("display:   ,%016X,%d,%s,%.2f,%.2f\r\n",
		id, seq, time.UnixMilli(ts).Format(timeLayout), x, y)
	return patchLen([]byte(line))
}

// FormatRssi renders one beacon observation as a display line.
func FormatRssi(id int64, ts int64, beaconID int, rssiDbm float64) []byte {
	line := fmt.Sprintf("rssidat:   ,%016X,%s,%d,%.1f\r\n",
		id, time.UnixMilli(ts).Format(timeLayout), beaconID, rssiDbm)
	return patchLen([]byte(line))
}

// FormatSummary renders end-of-run counters as a display line.
func FormatSummary(id int64, ts int64, frames, fixes int, rmse float64) []byte {
	line := fmt.Sprintf("summary:   ,%016X,%s,%d,%d,%.3f\r\n",
		id, time.UnixMilli(ts).Format(timeLayout), frames, fixes, rmse)
	return patchLen([]byte(line))
}
