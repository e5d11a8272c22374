package livesync

import "helpmate/docstore"

// MergeBlank copies every snapshot field whose local value is blank into
// local and returns the names of the fields it changed. Non-blank local
// values are never overwritten, so a local edit always survives a remote
// echo. The policy is a heuristic: if a second device changes a field that is
// already non-blank here, that change is not applied, and a field cleared
// locally is refilled by the next snapshot that still carries it.
func MergeBlank(local, snapshot docstore.Fields) []string {
	changed := make([]string, 0)
	for name, remote := range snapshot {
		if !docstore.IsBlank(local[name]) {
			continue
		}
		if docstore.IsBlank(remote) {
			continue
		}
		local[name] = remote
		changed = append(changed, name)
	}
	return changed
}
