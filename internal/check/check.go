// Package check performs the --test diagnostics: ring the bell briefly and
// speak one phrase, reporting whether the exhibit hardware works.
package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/act/sound"
	"github.com/fernspielapparat/fernspielapparat/internal/config"
	"github.com/fernspielapparat/fernspielapparat/internal/phone"
)

// testPhrase is spoken through the synthesizer during the check.
const testPhrase = "This is fernspielapparat speaking."

// ringDuration is how long the bell rings during the check.
const ringDuration = time.Second

// System checks the I2C phone and the speech pipeline. Both checks always
// run; the joined error covers everything that failed.
func System(ctx context.Context, cfg *config.Config) error {
	err := errors.Join(
		checkPhone(cfg),
		checkSpeech(ctx, cfg),
	)
	if err != nil {
		slog.Error("systems check failure", "err", err)
	} else {
		slog.Info("systems check successful")
	}
	return err
}

// checkPhone connects to the I2C phone and rings for one second.
func checkPhone(cfg *config.Config) error {
	slog.Info("testing communication with hardware phone", "device", cfg.Phone.Device)

	p, err := phone.Connect(cfg.Phone.Device, cfg.Phone.Address)
	if err != nil {
		return fmt.Errorf("check: connect phone: %w", err)
	}
	defer p.Close()

	if err := p.Ring(); err != nil {
		return fmt.Errorf("check: ring: %w", err)
	}
	time.Sleep(ringDuration)
	if err := p.Unring(); err != nil {
		return fmt.Errorf("check: stop ring: %w", err)
	}

	slog.Info("hardware phone ok")
	return nil
}

// checkSpeech synthesizes and plays one phrase end to end.
func checkSpeech(ctx context.Context, cfg *config.Config) error {
	slog.Info("testing speech synthesizer")

	synth := sound.NewSynth(cfg.Audio.SynthCommand)
	wav, err := synth.Synthesize(ctx, testPhrase)
	if err != nil {
		return fmt.Errorf("check: synthesize: %w", err)
	}
	defer os.Remove(wav)

	player := sound.NewPlayer(cfg.Audio.PlayerCommand, synth, nil)
	defer player.Close()
	if err := player.PlayOnce(ctx, wav); err != nil {
		return fmt.Errorf("check: play synthesized phrase: %w", err)
	}

	slog.Info("speech synthesis ok")
	return nil
}
