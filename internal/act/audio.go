package act

import (
	"log/slog"

	"github.com/fernspielapparat/fernspielapparat/internal/act/sound"
	"github.com/fernspielapparat/fernspielapparat/internal/book"
)

// Audio plays a state's sound group through the global [sound.Player].
type Audio struct {
	handle *sound.Handle
}

// NewAudio starts the group's playback. When the backend is unavailable the
// act starts done, so the evaluator's end transition still fires and the
// story keeps progressing without audio.
func NewAudio(player *sound.Player, group []*book.Sound) *Audio {
	handle, err := player.Start(group)
	if err != nil {
		slog.Warn("audio group did not start, treating as completed", "err", err)
		return &Audio{}
	}
	return &Audio{handle: handle}
}

func (a *Audio) Update() error { return nil }

func (a *Audio) Done() bool {
	return a.handle == nil || a.handle.Done()
}

func (a *Audio) Cancel() error {
	if a.handle != nil {
		a.handle.Cancel()
	}
	return nil
}
