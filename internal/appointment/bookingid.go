package appointment

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	PrefixBooking    = "BK"
	PrefixReschedule = "RS"

	suffixLen = 10
)

// IDGenerator produces booking ids. Collisions are rare enough that the storage
// unique constraint, not a lookup, is what catches them.
type IDGenerator func(prefix string, now time.Time) string

// NewBookingID returns prefix + unix millis + 10 base36 characters taken from
// the 48 random node bits of a v4 UUID, e.g. "BK1736503200000K3Q9Z0A1BC".
func NewBookingID(prefix string, now time.Time) string {
	u := uuid.New()

	var buf [8]byte
	copy(buf[2:], u[10:16])
	suffix := strings.ToUpper(strconv.FormatUint(binary.BigEndian.Uint64(buf[:]), 36))
	if len(suffix) < suffixLen {
		suffix = strings.Repeat("0", suffixLen-len(suffix)) + suffix
	}

	return prefix + strconv.FormatInt(now.UnixMilli(), 10) + suffix
}
