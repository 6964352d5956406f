package topology

// PinnedSelection is a table of predefined segment to server
// assignments. If a segment is present in this table, it is always
// sent to the pinned server, regardless of what the replica selection
// policy would otherwise choose.
type PinnedSelection map[SegmentID]ServerInstance

// PreselectedServer returns the server to which a segment is pinned,
// if any.
func (p PinnedSelection) PreselectedServer(segment SegmentID) (ServerInstance, bool) {
	server, ok := p[segment]
	return server, ok
}
