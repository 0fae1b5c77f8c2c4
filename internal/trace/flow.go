package trace

// FlowEntry is one hop in a trace's unique-system fan-out flow.
type FlowEntry struct {
	// Systems are the target systems first touched at this position:
	// one for sequential hops, the distinct unseen members for parallel hops.
	Systems []string `json:"systems"`

	// IsParallel marks hops where the systems were touched concurrently.
	IsParallel bool `json:"is_parallel"`
}

// BuildSystemFlow walks a timeline and emits each target system the first
// time it appears, preserving the sequential/parallel shape of the position
// where it was first touched.
//
// Systems already emitted are suppressed; a parallel group whose systems
// were all seen before contributes nothing. Empty target systems are
// ignored throughout.
func BuildSystemFlow(timeline []TimelineEntry) []FlowEntry {
	flow := make([]FlowEntry, 0, len(timeline))
	seen := make(map[string]bool)

	for _, entry := range timeline {
		if !entry.IsParallel {
			system := entry.Events[0].TargetSystem
			if system == "" || seen[system] {
				continue
			}

			seen[system] = true

			flow = append(flow, FlowEntry{Systems: []string{system}})

			continue
		}

		unseen := make([]string, 0, len(entry.Events))
		inGroup := make(map[string]bool, len(entry.Events))

		for _, ev := range entry.Events {
			system := ev.TargetSystem
			if system == "" || seen[system] || inGroup[system] {
				continue
			}

			inGroup[system] = true

			unseen = append(unseen, system)
		}

		if len(unseen) == 0 {
			continue
		}

		for _, system := range unseen {
			seen[system] = true
		}

		flow = append(flow, FlowEntry{Systems: unseen, IsParallel: true})
	}

	return flow
}
