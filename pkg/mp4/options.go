package mp4

import (
	"log/slog"

	"m7s.live/mp4demux/pkg"
	"m7s.live/mp4demux/pkg/box"
	"m7s.live/mp4demux/pkg/config"
)

const (
	ChapterListFirst  = "chpl"
	ChapterTrackFirst = "track"
)

type Options struct {
	MaxDepth          int    `default:"16" desc:"container nesting limit"`
	MaxBoxPayload     uint64 `default:"67108864" desc:"largest leaf payload read into memory"`
	LogLevel          string `default:"info" desc:"trace, debug, info, warn or error"`
	ChapterPrecedence string `default:"chpl" desc:"chapter source used when a file carries both"`
	ReadChapters      bool   `default:"true"`
	ReadCover         bool   `default:"true"`
}

// DefaultOptions returns the options with their default tags applied.
func DefaultOptions() Options {
	var opts Options
	config.Parse(&opts, "MP4", nil)
	return opts
}

// ParseOptions applies defaults, MP4_* environment variables, then conf, usually
// loaded with config.LoadFile.
func ParseOptions(conf map[string]any) Options {
	var opts Options
	config.Parse(&opts, "MP4", conf)
	return opts
}

type Option func(*Demuxer)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Demuxer) {
		d.Logger = logger
	}
}

func WithConfig(opts Options) Option {
	return func(d *Demuxer) {
		d.opts = opts
	}
}

func (opts *Options) normalize() {
	if opts.MaxDepth <= 0 || opts.MaxDepth > box.MaxDepth {
		opts.MaxDepth = box.MaxDepth
	}
	if opts.ChapterPrecedence != ChapterTrackFirst {
		opts.ChapterPrecedence = ChapterListFirst
	}
}

// Level reports the configured level, or the process-wide one when none is set.
func (opts *Options) Level() slog.Level {
	if opts.LogLevel == "" {
		return pkg.LogLevel()
	}
	return pkg.ParseLevel(opts.LogLevel)
}
