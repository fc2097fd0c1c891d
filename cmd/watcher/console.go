package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vedikabops/splitstream/internal/media"
	"github.com/vedikabops/splitstream/internal/playback"
	"github.com/vedikabops/splitstream/internal/session"
)

const helpText = `commands:
  play | pause | seek <seconds>
  load <youtube url>
  say <text>
  status
  quit`

// localPlayer is the player as the person at the keyboard drives it.
type localPlayer interface {
	Play() error
	Pause() error
	SeekTo(seconds float64) error
	Position() float64
	Status() playback.Status
}

type room interface {
	LoadMedia(ctx context.Context, rawURL string) error
	SendMessage(ctx context.Context, text string) error
	Snapshot() session.Snapshot
}

// console turns typed commands into user actions. Playback commands go to
// the player, never to the room: the session sees them as genuine local
// actions and broadcasts them.
type console struct {
	player localPlayer
	room   room
	out    io.Writer
}

func (c *console) exec(ctx context.Context, line string) (quit bool, err error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "":
		return false, nil
	case "play":
		return false, c.player.Play()
	case "pause":
		return false, c.player.Pause()
	case "seek":
		secs, err := strconv.ParseFloat(arg, 64)
		if err != nil || secs < 0 {
			return false, fmt.Errorf("seek wants a position in seconds, got %q", arg)
		}
		return false, c.player.SeekTo(secs)
	case "load":
		return false, c.room.LoadMedia(ctx, arg)
	case "say":
		return false, c.room.SendMessage(ctx, arg)
	case "status":
		c.printStatus()
		return false, nil
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
		return false, nil
	case "quit", "exit":
		return true, nil
	}
	return false, errors.New("unknown command " + name + ", try help")
}

func (c *console) printStatus() {
	snap := c.room.Snapshot()
	watching := "nothing"
	if snap.Media != nil {
		watching = describeMedia(*snap.Media)
	}
	fmt.Fprintf(c.out, "%s at %.1fs, watching %s\n", c.player.Status(), c.player.Position(), watching)
	fmt.Fprintf(c.out, "in room: %s\n", strings.Join(snap.Participants, ", "))
}

func describeMedia(ref media.Reference) string {
	if !ref.IsPlaylist() {
		return "video " + ref.VideoID
	}
	s := "playlist " + ref.PlaylistID
	if i, ok := ref.Index(); ok {
		s += " from #" + strconv.Itoa(i)
	}
	return s
}

// readLines delivers r line by line until EOF or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
