package core

import "github.com/mikey-austin/cuebox/pkg/cue"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []cue.Presence
}

// StatusResult holds a session snapshot and the server that owns it.
type StatusResult struct {
	Server cue.Presence
	State  cue.SessionState
}

// QueueResult holds one page of a session queue.
type QueueResult struct {
	Server cue.Presence
	Kind   string
	Queue  cue.QueueGetReply
}
