package turn

import "strings"

// deltaStream turns cumulative text into the suffix not yet sent.
type deltaStream struct {
	sent string
}

// Next returns what cumulative adds to the text already sent. A stale
// cumulative that is a prefix of what was sent adds nothing. When the engine
// starts a new block the cumulative text no longer extends what was sent,
// and the whole block is new.
func (d *deltaStream) Next(cumulative string) string {
	if strings.HasPrefix(d.sent, cumulative) {
		return ""
	}
	if strings.HasPrefix(cumulative, d.sent) {
		delta := cumulative[len(d.sent):]
		d.sent = cumulative
		return delta
	}
	d.sent = cumulative
	return cumulative
}
