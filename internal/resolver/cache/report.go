package cache

import "fmt"

// formatStats renders a one-line summary in the same terse style as the other reporter
// implementations in this tree (see the Report method in cmd/coreproxy/server.go).
func formatStats(s stats, v4Len, v6Len int) string {
	return fmt.Sprintf("v4=%d v6=%d hits4=%d hits6=%d miss=%d expired=%d ins=%d rot=%d rotSkip=%d",
		v4Len, v6Len, s.hits4, s.hits6, s.misses, s.expired, s.inserts, s.rotations, s.rotationsSkipped)
}
