package settlement

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	refAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	refRandomLen  = 8
	refTimeLayout = "200601021504"
)

// ReferenceGenerator builds external references accepted by bill payment
// providers: YYYYMMDDHHmm in Lagos time, six digits of sub-minute time, then
// eight random alphanumerics.
type ReferenceGenerator struct {
	loc *time.Location
	now func() time.Time
}

// NewReferenceGenerator returns a generator on the Africa/Lagos clock.
func NewReferenceGenerator() *ReferenceGenerator {
	loc, err := time.LoadLocation("Africa/Lagos")
	if err != nil {
		loc = time.FixedZone("WAT", int(time.Hour/time.Second))
	}
	return &ReferenceGenerator{loc: loc, now: time.Now}
}

// Next returns a fresh reference.
func (g *ReferenceGenerator) Next() string {
	t := g.now().In(g.loc)

	var b strings.Builder
	b.Grow(len(refTimeLayout) + 6 + refRandomLen)
	b.WriteString(t.Format(refTimeLayout))
	fmt.Fprintf(&b, "%02d%04d", t.Second(), t.Nanosecond()/int(100*time.Microsecond))

	size := big.NewInt(int64(len(refAlphabet)))
	for i := 0; i < refRandomLen; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(fmt.Sprintf("read random: %v", err))
		}
		b.WriteByte(refAlphabet[n.Int64()])
	}
	return b.String()
}

func refundReference(ref string) string  { return "REFUND_" + ref }
func redebitReference(ref string) string { return "REDEBIT_" + ref }
