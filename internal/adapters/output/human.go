package output

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/cuebox/internal/core"
	"github.com/mikey-austin/cuebox/pkg/cue"
)

// HumanPrinter prints tables and status lines.
type HumanPrinter struct {
	Out io.Writer
}

// DisableColor turns off pterm styling globally.
func DisableColor() {
	pterm.DisableStyling()
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	out := writer(p.Out)
	switch data := v.(type) {
	case core.NodesResult:
		return printNodes(out, data)
	case core.StatusResult:
		return printStatus(out, data)
	case core.QueueResult:
		return printQueue(out, data)
	default:
		_, err := fmt.Fprintln(out, "ok")
		return err
	}
}

func printNodes(out io.Writer, result core.NodesResult) error {
	data := pterm.TableData{{"NAME", "KIND", "NODE_ID", "SESSIONS"}}
	for _, node := range result.Nodes {
		data = append(data, []string{node.Name, node.Kind, node.NodeID, capKinds(node.Caps)})
	}
	return renderTable(out, data)
}

func capKinds(caps map[string]any) string {
	raw, ok := caps["kinds"].([]any)
	if !ok {
		return ""
	}
	kinds := make([]string, 0, len(raw))
	for _, kind := range raw {
		if s, ok := kind.(string); ok {
			kinds = append(kinds, s)
		}
	}
	return strings.Join(kinds, ",")
}

func printStatus(out io.Writer, result core.StatusResult) error {
	state := result.State

	status := pterm.FgYellow.Sprint("paused")
	if state.Playing {
		status = pterm.FgGreen.Sprint("playing")
	}
	if state.CurrentItemID == nil {
		status = pterm.FgGray.Sprint("stopped")
	}

	title := "-"
	if state.CurrentItemID != nil {
		title = pterm.Bold.Sprint(state.Title)
		if state.Artist != "" {
			title += " - " + state.Artist
		}
		if state.EpisodeInfo != "" {
			title += " (" + state.EpisodeInfo + ")"
		} else if state.Album != "" {
			title += " (" + state.Album + ")"
		}
	}

	cuePos := "-"
	if state.CueLength > 0 {
		cuePos = fmt.Sprintf("%d/%d", state.CueIndex+1, state.CueLength)
		if state.UsingSecondary {
			cuePos += " catalog"
		}
	}

	lines := []string{
		fmt.Sprintf("%s/%s  %s  %s", state.Kind, state.Key, status, title),
		fmt.Sprintf("%s / %s  %s  vol %d%%  shuffle %s  repeat %s  cue %s",
			formatClock(state.CurrentTime),
			formatClock(state.Duration),
			progressBar(state.CurrentTime, state.Duration, 20),
			int(math.Round(state.Volume*100)),
			state.ShuffleMode,
			state.RepeatMode,
			cuePos,
		),
	}
	_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
	return err
}

func printQueue(out io.Writer, result core.QueueResult) error {
	queue := result.Queue
	data := pterm.TableData{{"", "POS", "ID", "TITLE", "ARTIST", "DURATION"}}
	for _, entry := range queue.Entries {
		marker := ""
		if entry.Current {
			marker = pterm.FgGreen.Sprint(">")
		}
		data = append(data, []string{
			marker,
			strconv.Itoa(entry.Position),
			strconv.FormatInt(entry.ItemID, 10),
			entry.Title,
			entry.Artist,
			formatClock(entry.Duration),
		})
	}
	if err := renderTable(out, data); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, pageFooter(queue))
	return err
}

func pageFooter(queue cue.QueueGetReply) string {
	if queue.Size <= 0 {
		return fmt.Sprintf("%d entries", queue.Total)
	}
	pages := (queue.Total + queue.Size - 1) / queue.Size
	if pages == 0 {
		pages = 1
	}
	return fmt.Sprintf("page %d/%d, %d entries", queue.Page+1, pages, queue.Total)
}

func renderTable(out io.Writer, data pterm.TableData) error {
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, rendered)
	return err
}

func formatClock(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) {
		return "0:00"
	}
	total := int(seconds)
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func progressBar(current, duration float64, width int) string {
	filled := 0
	if duration > 0 {
		filled = int(math.Round(current / duration * float64(width)))
	}
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
