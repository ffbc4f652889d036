package rtmp

// timestampCorrector widens the 32-bit container timestamps of the publish
// path to a monotonically non-decreasing 64-bit sequence. FLV timestamps
// wrap roughly every 49 days; a forward jump of more than half the 32-bit
// range is read as wraparound and a backward jump of more than half the
// range as clock regression.
type timestampCorrector struct {
	base uint64
	last uint64
}

const timestampHalfRange = uint64(1) << 31
const timestampFullRange = uint64(1) << 32

// correct returns the widened timestamp for a raw 32-bit value.
func (c *timestampCorrector) correct(raw uint32) uint64 {
	ts := uint64(raw)
	if ts+c.base+timestampHalfRange < c.last {
		c.base += timestampFullRange
	} else if ts+c.base > c.last+timestampHalfRange {
		if c.base >= timestampFullRange {
			c.base -= timestampFullRange
		} else {
			// Cannot regress below the first epoch; pin to zero.
			c.base = 0
			ts = 0
		}
	}
	ts += c.base
	c.last = ts
	return ts
}
