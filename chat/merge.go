package chat

import "sort"

// MergeMessages combines a loaded history page with messages received live.
// Messages are deduplicated by ID and returned in Seq order.
func MergeMessages(history, live []Message) []Message {
	seen := make(map[uint64]struct{}, len(history)+len(live))
	merged := make([]Message, 0, len(history)+len(live))
	for _, list := range [][]Message{history, live} {
		for _, msg := range list {
			if _, dup := seen[msg.ID]; dup {
				continue
			}
			seen[msg.ID] = struct{}{}
			merged = append(merged, msg)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Seq < merged[j].Seq
	})
	return merged
}
