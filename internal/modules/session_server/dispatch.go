package sessionserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

func (m *Module) dispatch(ctx context.Context, cmd cue.CommandEnvelope) cue.ReplyEnvelope {
	if err := cue.ValidateCommandEnvelope(cmd); err != nil {
		return errorReply(cmd, "INVALID", err.Error())
	}
	controller, ok := m.controllers[cmd.Kind]
	if !ok {
		return errorReply(cmd, "NOT_FOUND", fmt.Sprintf("no %s sessions on this node", cmd.Kind))
	}
	if cmd.Kind == cue.KindAudio && strings.TrimSpace(cmd.Profile) == "" {
		return errorReply(cmd, "INVALID", "profile required")
	}
	if cue.CommandMutates(cmd.Type) && !m.allow(cmd.From) {
		return errorReply(cmd, "RATE_LIMITED", "too many commands")
	}

	reply := cue.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   time.Now().Unix(),
	}

	switch cmd.Type {
	case "session.get":
		return stateReply(reply, controller.State(ctx, cmd.Profile))
	case "session.select":
		return m.sessionSelect(ctx, controller, cmd, reply)
	case "session.playItems":
		return m.sessionPlayItems(ctx, controller, cmd, reply)
	case "playback.toggle":
		return stateReply(reply, controller.TogglePlay(ctx, cmd.Profile))
	case "playback.next":
		return stateReply(reply, controller.Next(ctx, cmd.Profile))
	case "playback.prev":
		return stateReply(reply, controller.Previous(ctx, cmd.Profile))
	case "playback.seek":
		return m.playbackSeek(ctx, controller, cmd, reply)
	case "playback.setVolume":
		return m.playbackSetVolume(ctx, controller, cmd, reply)
	case "mode.shuffle":
		return stateReply(reply, controller.ToggleShuffle(ctx, cmd.Profile))
	case "mode.repeat":
		return stateReply(reply, controller.ToggleRepeat(ctx, cmd.Profile))
	case "queue.add":
		return m.queueAdd(ctx, controller, cmd, reply)
	case "queue.remove":
		return m.queueRemove(ctx, controller, cmd, reply)
	case "queue.move":
		return m.queueMove(ctx, controller, cmd, reply)
	case "queue.clear":
		return stateReply(reply, controller.ClearQueue(ctx, cmd.Profile))
	case "queue.jump":
		return m.queueJump(ctx, controller, cmd, reply)
	case "queue.get":
		return m.queueGet(ctx, controller, cmd, reply)
	default:
		return errorReply(cmd, "INVALID", "unsupported command")
	}
}

func (m *Module) sessionSelect(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.SelectBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	if body.ItemID <= 0 {
		return errorReply(cmd, "INVALID", "itemId required")
	}
	return stateReply(reply, c.SelectItem(ctx, cmd.Profile, sessioncore.ItemID(body.ItemID)))
}

func (m *Module) sessionPlayItems(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.PlayItemsBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	return stateReply(reply, c.PlayItems(ctx, cmd.Profile, toItemIDs(body.ItemIDs)))
}

func (m *Module) playbackSeek(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.PlaybackSeekBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	return stateReply(reply, c.Seek(ctx, cmd.Profile, body.Seconds))
}

func (m *Module) playbackSetVolume(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.PlaybackSetVolumeBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	return stateReply(reply, c.SetVolume(ctx, cmd.Profile, body.Volume))
}

func (m *Module) queueAdd(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.QueueAddBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	if len(body.ItemIDs) == 0 {
		return errorReply(cmd, "INVALID", "itemIds required")
	}
	return stateReply(reply, c.AddToQueue(ctx, cmd.Profile, toItemIDs(body.ItemIDs), body.PlayNext))
}

func (m *Module) queueRemove(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.QueueRemoveBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	switch {
	case body.ItemID != nil:
		return stateReply(reply, c.RemoveFromQueue(ctx, cmd.Profile, sessioncore.ItemID(*body.ItemID)))
	case body.Index != nil:
		return stateReply(reply, c.RemoveFromQueueAt(ctx, cmd.Profile, *body.Index))
	default:
		return errorReply(cmd, "INVALID", "itemId or index required")
	}
}

func (m *Module) queueMove(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.QueueMoveBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	return stateReply(reply, c.MoveInQueue(ctx, cmd.Profile, body.From, body.To))
}

func (m *Module) queueJump(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.QueueJumpBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	return stateReply(reply, c.SkipToQueueIndex(ctx, cmd.Profile, body.Index))
}

func (m *Module) queueGet(ctx context.Context, c *sessioncore.Controller, cmd cue.CommandEnvelope, reply cue.ReplyEnvelope) cue.ReplyEnvelope {
	var body cue.QueueGetBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, "INVALID", "invalid body")
	}
	page := c.QueuePage(ctx, cmd.Profile, body.Page, body.Size)

	out := cue.QueueGetReply{
		Page:    page.Page,
		Size:    page.Size,
		Total:   page.Total,
		Index:   page.Index,
		Entries: make([]cue.QueueItem, 0, len(page.Items)),
	}
	for i, item := range page.Items {
		position := page.Offset + i
		out.Entries = append(out.Entries, cue.QueueItem{
			Position: position,
			ItemID:   int64(item.ID),
			Title:    item.Title,
			Artist:   item.Artist,
			Album:    item.Album,
			Genre:    item.Genre,
			Duration: item.Duration,
			Current:  position == page.Index,
		})
	}
	payload, _ := json.Marshal(out)
	reply.Body = payload
	return reply
}

func stateReply(reply cue.ReplyEnvelope, state sessioncore.State) cue.ReplyEnvelope {
	payload, _ := json.Marshal(state.Snapshot())
	reply.Body = payload
	return reply
}

func toItemIDs(ids []int64) []sessioncore.ItemID {
	out := make([]sessioncore.ItemID, 0, len(ids))
	for _, id := range ids {
		out = append(out, sessioncore.ItemID(id))
	}
	return out
}
