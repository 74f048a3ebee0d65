package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mikey-austin/cuebox/internal/ports"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// Service orchestrates cuebox CLI use cases.
type Service struct {
	Broker   ports.Broker
	Resolver Resolver
	Clock    ports.Clock
	IDGen    ports.IDGen
	Config   Config
}

// Target addresses one session on one server.
type Target struct {
	Server  string
	Kind    string
	Profile string
}

// ListNodes returns presence entries, optionally only session servers.
func (s Service) ListNodes(ctx context.Context, sessionsOnly bool) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	if sessionsOnly {
		nodes = filterPresenceByKind(nodes, PresenceKindSession)
	}
	return NodesResult{Nodes: nodes}, nil
}

// Status returns the session snapshot.
func (s Service) Status(ctx context.Context, target Target) (StatusResult, error) {
	return s.stateCommand(ctx, target, "session.get", cue.SessionGetBody{})
}

// WatchStatus streams snapshots of the session until ctx is done.
func (s Service) WatchStatus(ctx context.Context, target Target) (StatusResult, <-chan cue.SessionState, <-chan error, error) {
	initial, err := s.Status(ctx, target)
	if err != nil {
		return StatusResult{}, nil, nil, err
	}
	states, errs := s.Broker.WatchSession(ctx, initial.State.Kind, initial.State.Key)
	return initial, states, errs, nil
}

// PlayItems replaces the cue with ids and starts playing.
func (s Service) PlayItems(ctx context.Context, target Target, args []string) (StatusResult, error) {
	ids, err := parseItemIDs(args)
	if err != nil {
		return StatusResult{}, err
	}
	return s.stateCommand(ctx, target, "session.playItems", cue.PlayItemsBody{ItemIDs: ids})
}

// Select jumps to one item.
func (s Service) Select(ctx context.Context, target Target, arg string) (StatusResult, error) {
	ids, err := parseItemIDs([]string{arg})
	if err != nil {
		return StatusResult{}, err
	}
	return s.stateCommand(ctx, target, "session.select", cue.SelectBody{ItemID: ids[0]})
}

// Toggle flips play and pause.
func (s Service) Toggle(ctx context.Context, target Target) (StatusResult, error) {
	return s.stateCommand(ctx, target, "playback.toggle", struct{}{})
}

// Next skips forward.
func (s Service) Next(ctx context.Context, target Target) (StatusResult, error) {
	return s.stateCommand(ctx, target, "playback.next", struct{}{})
}

// Prev restarts the item or goes back.
func (s Service) Prev(ctx context.Context, target Target) (StatusResult, error) {
	return s.stateCommand(ctx, target, "playback.prev", struct{}{})
}

// Seek moves to an absolute position or by a signed delta.
func (s Service) Seek(ctx context.Context, target Target, arg string) (StatusResult, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return StatusResult{}, &CLIError{Code: ExitUsage, Msg: "seek position required"}
	}

	seconds, err := parseSeconds(strings.TrimLeft(arg, "+-"))
	if err != nil {
		return StatusResult{}, err
	}
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		status, err := s.Status(ctx, target)
		if err != nil {
			return StatusResult{}, err
		}
		if strings.HasPrefix(arg, "-") {
			seconds = -seconds
		}
		seconds = status.State.CurrentTime + seconds
	}
	if seconds < 0 {
		seconds = 0
	}
	return s.stateCommand(ctx, target, "playback.seek", cue.PlaybackSeekBody{Seconds: seconds})
}

// SetVolume sets volume in percent, absolute or by a signed delta.
func (s Service) SetVolume(ctx context.Context, target Target, arg string) (StatusResult, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return StatusResult{}, &CLIError{Code: ExitUsage, Msg: "volume argument required"}
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(arg, "%"), 64)
	if err != nil {
		return StatusResult{}, &CLIError{Code: ExitUsage, Msg: "invalid volume"}
	}

	volume := value / 100
	if strings.HasPrefix(arg, "+") || strings.HasPrefix(arg, "-") {
		status, err := s.Status(ctx, target)
		if err != nil {
			return StatusResult{}, err
		}
		volume = status.State.Volume + value/100
	}
	return s.stateCommand(ctx, target, "playback.setVolume", cue.PlaybackSetVolumeBody{Volume: clampVolume(volume)})
}

// Shuffle cycles the shuffle mode.
func (s Service) Shuffle(ctx context.Context, target Target) (StatusResult, error) {
	return s.stateCommand(ctx, target, "mode.shuffle", struct{}{})
}

// Repeat cycles the repeat mode.
func (s Service) Repeat(ctx context.Context, target Target) (StatusResult, error) {
	return s.stateCommand(ctx, target, "mode.repeat", struct{}{})
}

// QueueList returns one page of the queue.
func (s Service) QueueList(ctx context.Context, target Target, page, size int) (QueueResult, error) {
	if page < 0 || size < 0 {
		return QueueResult{}, &CLIError{Code: ExitUsage, Msg: "page and size must not be negative"}
	}
	server, reply, err := s.send(ctx, target, "queue.get", cue.QueueGetBody{Page: page, Size: size})
	if err != nil {
		return QueueResult{}, err
	}
	var queue cue.QueueGetReply
	if err := json.Unmarshal(reply.Body, &queue); err != nil {
		return QueueResult{}, WrapError(ExitRuntime, "decode queue", err)
	}
	resolved, _ := s.resolveTarget(target)
	return QueueResult{Server: server, Kind: resolved.Kind, Queue: queue}, nil
}

// QueueAdd appends items, or inserts them after the current item.
func (s Service) QueueAdd(ctx context.Context, target Target, args []string, playNext bool) (StatusResult, error) {
	ids, err := parseItemIDs(args)
	if err != nil {
		return StatusResult{}, err
	}
	return s.stateCommand(ctx, target, "queue.add", cue.QueueAddBody{ItemIDs: ids, PlayNext: playNext})
}

// QueueRemove removes an item by id, or by position when byIndex is set.
func (s Service) QueueRemove(ctx context.Context, target Target, arg string, byIndex bool) (StatusResult, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return StatusResult{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid queue reference %q", arg)}
	}
	body := cue.QueueRemoveBody{}
	if byIndex {
		index := int(value)
		body.Index = &index
	} else {
		body.ItemID = &value
	}
	return s.stateCommand(ctx, target, "queue.remove", body)
}

// QueueMove relocates one entry.
func (s Service) QueueMove(ctx context.Context, target Target, from, to int) (StatusResult, error) {
	return s.stateCommand(ctx, target, "queue.move", cue.QueueMoveBody{From: from, To: to})
}

// QueueClear empties the queue.
func (s Service) QueueClear(ctx context.Context, target Target) (StatusResult, error) {
	return s.stateCommand(ctx, target, "queue.clear", struct{}{})
}

// QueueJump skips to a queue position.
func (s Service) QueueJump(ctx context.Context, target Target, index int) (StatusResult, error) {
	return s.stateCommand(ctx, target, "queue.jump", cue.QueueJumpBody{Index: index})
}

func (s Service) stateCommand(ctx context.Context, target Target, cmdType string, body any) (StatusResult, error) {
	server, reply, err := s.send(ctx, target, cmdType, body)
	if err != nil {
		return StatusResult{}, err
	}
	var state cue.SessionState
	if err := json.Unmarshal(reply.Body, &state); err != nil {
		return StatusResult{}, WrapError(ExitRuntime, "decode session state", err)
	}
	return StatusResult{Server: server, State: state}, nil
}

func (s Service) send(ctx context.Context, target Target, cmdType string, body any) (cue.Presence, cue.ReplyEnvelope, error) {
	target, err := s.resolveTarget(target)
	if err != nil {
		return cue.Presence{}, cue.ReplyEnvelope{}, err
	}
	server, err := s.Resolver.ResolveServer(ctx, target.Server)
	if err != nil {
		return cue.Presence{}, cue.ReplyEnvelope{}, err
	}
	cmd, err := cue.NewCommand(cmdType, body)
	if err != nil {
		return cue.Presence{}, cue.ReplyEnvelope{}, WrapError(ExitRuntime, "build command", err)
	}
	cmd = s.decorateCommand(cmd, target)

	reply, err := s.Broker.PublishCommand(ctx, server.NodeID, cmd)
	if err != nil {
		return cue.Presence{}, cue.ReplyEnvelope{}, WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		return cue.Presence{}, cue.ReplyEnvelope{}, ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
	}
	return server, reply, nil
}

func (s Service) resolveTarget(target Target) (Target, error) {
	if target.Kind == "" {
		target.Kind = s.Config.Defaults.Kind
	}
	if target.Kind == "" {
		target.Kind = cue.KindAudio
	}
	if target.Profile == "" {
		target.Profile = s.Config.Defaults.Profile
	}
	switch target.Kind {
	case cue.KindAudio:
		if target.Profile == "" {
			return Target{}, &CLIError{Code: ExitUsage, Msg: "profile required for audio sessions (set --profile or defaults.profile)"}
		}
	case cue.KindVideo:
	default:
		return Target{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("kind must be %s or %s", cue.KindAudio, cue.KindVideo)}
	}
	return target, nil
}

func (s Service) decorateCommand(cmd cue.CommandEnvelope, target Target) cue.CommandEnvelope {
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()
	cmd.Kind = target.Kind
	cmd.Profile = target.Profile
	return cmd
}

func parseItemIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, &CLIError{Code: ExitUsage, Msg: "item ids required"}
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("invalid item id %q", part)}
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, &CLIError{Code: ExitUsage, Msg: "item ids required"}
	}
	return ids, nil
}

// parseSeconds accepts plain seconds, Go durations and m:ss.
func parseSeconds(arg string) (float64, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return 0, &CLIError{Code: ExitUsage, Msg: "duration required"}
	}
	if minutes, seconds, ok := strings.Cut(arg, ":"); ok {
		m, errM := strconv.Atoi(minutes)
		sec, errS := strconv.ParseFloat(seconds, 64)
		if errM != nil || errS != nil || m < 0 || sec < 0 || sec >= 60 {
			return 0, &CLIError{Code: ExitUsage, Msg: "invalid duration"}
		}
		return float64(m*60) + sec, nil
	}
	if value, err := strconv.ParseFloat(arg, 64); err == nil {
		return value, nil
	}
	dur, err := time.ParseDuration(arg)
	if err != nil {
		return 0, &CLIError{Code: ExitUsage, Msg: "invalid duration"}
	}
	return dur.Seconds(), nil
}

func clampVolume(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
