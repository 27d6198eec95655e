package metrics

import "github.com/rs/zerolog"

// Log writes each snapshot as one structured line.
type Log struct {
	log zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{log: logger.With().Str("component", "stats").Logger()}
}

func (l *Log) Publish(s Snapshot) error {
	l.log.Info().
		Bool("connected", s.Connected).
		Float64("fps", s.FrameRate).
		Uint64("bytes", s.BytesReceived).
		Uint64("frames", s.Frames).
		Uint64("commits", s.Commits).
		Uint64("overlaps", s.Overlaps).
		Uint64("connects", s.Connects).
		Uint64("disconnects", s.Disconnects).
		Msg("stream stats")
	return nil
}
