// Package usecase contains application business logic.
package usecase

import "github.com/proclean/proclean/internal/domain"

// Match returns the snapshot entries eligible for cleanup: every entry
// owned by ownerUser, restricted to the subtree rooted at rootPID when
// rootPID is non-zero. The cleanup process itself (selfPID) is always
// excluded to avoid self-termination races.
func Match(snap *domain.Snapshot, ownerUser string, rootPID, selfPID int) []domain.ProcessEntry {
	if ownerUser == "" {
		// An unattributable snapshot entry also carries an empty user;
		// matching it here would target arbitrary processes.
		return nil
	}

	var index map[int]domain.ProcessEntry
	if rootPID != 0 {
		index = snap.ByPID()
	}

	matched := make([]domain.ProcessEntry, 0)
	for _, e := range snap.Entries {
		if e.PID == selfPID || e.User != ownerUser {
			continue
		}
		if rootPID != 0 && !descendsFrom(e, rootPID, index) {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}

// descendsFrom reports whether e is rootPID itself or a transitive
// descendant of it, following PPID links within the snapshot. Parent
// chains in a live process table can dangle or even cycle; the visited
// set bounds the walk so a malformed chain is simply non-matching.
func descendsFrom(e domain.ProcessEntry, rootPID int, index map[int]domain.ProcessEntry) bool {
	visited := make(map[int]bool)
	cur := e
	for {
		if cur.PID == rootPID {
			return true
		}
		if visited[cur.PID] {
			return false
		}
		visited[cur.PID] = true

		parent, ok := index[cur.PPID]
		if !ok {
			return false
		}
		cur = parent
	}
}

// depthBelow returns the distance from rootPID to e (0 for the root
// itself) and whether the chain terminates at rootPID within the
// snapshot.
func depthBelow(e domain.ProcessEntry, rootPID int, index map[int]domain.ProcessEntry) (int, bool) {
	visited := make(map[int]bool)
	depth := 0
	cur := e
	for {
		if cur.PID == rootPID {
			return depth, true
		}
		if visited[cur.PID] {
			return 0, false
		}
		visited[cur.PID] = true

		parent, ok := index[cur.PPID]
		if !ok {
			return 0, false
		}
		cur = parent
		depth++
	}
}
