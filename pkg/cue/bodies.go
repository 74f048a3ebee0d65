package cue

// SessionGetBody is the payload for session.get.
type SessionGetBody struct{}

// SelectBody is the payload for session.select.
type SelectBody struct {
	ItemID int64 `json:"itemId"`
}

// PlayItemsBody replaces the active cue and starts playing it.
type PlayItemsBody struct {
	ItemIDs []int64 `json:"itemIds"`
}

// PlaybackSeekBody is the payload for playback.seek.
type PlaybackSeekBody struct {
	Seconds float64 `json:"seconds"`
}

// PlaybackSetVolumeBody is the payload for playback.setVolume.
type PlaybackSetVolumeBody struct {
	Volume float64 `json:"volume"`
}

// QueueAddBody adds items to the queue.
type QueueAddBody struct {
	ItemIDs  []int64 `json:"itemIds"`
	PlayNext bool    `json:"playNext,omitempty"`
}

// QueueRemoveBody removes one entry, by item id or by index.
type QueueRemoveBody struct {
	ItemID *int64 `json:"itemId,omitempty"`
	Index  *int   `json:"index,omitempty"`
}

// QueueMoveBody relocates one entry.
type QueueMoveBody struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// QueueJumpBody skips to a queue index.
type QueueJumpBody struct {
	Index int `json:"index"`
}

// QueueGetBody fetches one page of the queue.
type QueueGetBody struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

// QueueGetReply is the reply body for queue.get.
type QueueGetReply struct {
	Page    int         `json:"page"`
	Size    int         `json:"size"`
	Total   int         `json:"total"`
	Index   int         `json:"index"`
	Entries []QueueItem `json:"entries"`
}

// QueueItem is an entry returned by queue.get.
type QueueItem struct {
	Position int     `json:"position"`
	ItemID   int64   `json:"itemId"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist,omitempty"`
	Album    string  `json:"album,omitempty"`
	Genre    string  `json:"genre,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Current  bool    `json:"current,omitempty"`
}
