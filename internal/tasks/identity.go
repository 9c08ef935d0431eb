package tasks

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"stitch/internal/segments"
)

// TaskID derives the deterministic task identity from the conversation id
// and the ordered segment descriptors. Identical requests always hash to
// the same id, which is what makes caller-side retries safe.
func TaskID(conversationID string, segs []segments.Segment) string {
	var b strings.Builder
	b.WriteString(conversationID)
	for _, seg := range segs {
		b.WriteByte('|')
		b.WriteString(seg.URL)
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(seg.StartTime, 'f', -1, 64))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(seg.EndTime, 'f', -1, 64))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
