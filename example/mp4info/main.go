package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"m7s.live/mp4demux/pkg"
	"m7s.live/mp4demux/pkg/config"
	"m7s.live/mp4demux/pkg/mp4"
	"m7s.live/mp4demux/pkg/util"
)

func hms(us uint64) string {
	d := time.Duration(us) * time.Microsecond
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func main() {
	conf := flag.String("c", "", "config file")
	jsonLog := flag.Bool("json", false, "log as json to stderr")
	samples := flag.Int("samples", 0, "print the first n samples of every track")
	coverOut := flag.String("cover", "", "write the cover image to this file")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mp4info [-c config.yaml] [-samples n] [-cover out] file.mp4")
		os.Exit(2)
	}

	var settings map[string]any
	if *conf != "" {
		var err error
		if settings, err = config.LoadFile(*conf); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	opts := mp4.ParseOptions(settings)
	pkg.SetLogLevel(opts.Level())
	handler := pkg.NewMultiLogHandler(pkg.NewConsoleHandler(os.Stderr))
	if *jsonLog {
		handler = pkg.NewMultiLogHandler(pkg.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level()}))
	}
	logger := slog.New(handler)

	d, err := mp4.Open(flag.Arg(0), mp4.WithConfig(opts), mp4.WithLogger(logger))
	if err != nil {
		logger.Error("open", "file", flag.Arg(0), "err", err)
		os.Exit(1)
	}
	defer d.Close()

	info, _ := d.Info()
	fmt.Printf("brand: %s  duration: %s\n", info.MajorBrand[:], hms(util.Rescale(info.Duration, info.Timescale, 1_000_000)))
	tracks, _ := d.Tracks()
	for _, track := range tracks {
		fmt.Printf("track %d: %s %s (%s) %s samples=%d", track.ID, track.Kind, track.Codec, track.CodecTag[:], hms(track.DurationUs()), track.SampleCount)
		switch track.Kind {
		case mp4.KindVideo:
			fmt.Printf(" %dx%d", track.Width, track.Height)
		case mp4.KindAudio:
			fmt.Printf(" %dHz %dch", track.SampleRate, track.ChannelCount)
		}
		if track.HasMetadata {
			fmt.Printf(" metadata=%s", track.MetadataMimeFormat)
		}
		fmt.Printf(" lang=%s\n", track.Language)
		for i := 0; i < *samples; i++ {
			next, err := d.NextSample(track.ID)
			if err != nil || next.Size == 0 {
				break
			}
			fmt.Printf("  #%d offset=%d size=%d dts=%d cts=%d sync=%t\n", next.Index, next.Offset, next.Size, next.DTS, next.CTS, next.Sync)
		}
	}

	values, _ := d.MetadataValues()
	for _, key := range mp4.MetadataKeys() {
		if v, ok := values[key]; ok {
			fmt.Printf("%s: %s\n", key, v)
		}
	}

	if n, format, err := d.Cover(nil); err == nil {
		fmt.Printf("cover: %s %d bytes\n", format, n)
		if *coverOut != "" {
			buf := make([]byte, n)
			d.Cover(buf)
			if err = os.WriteFile(*coverOut, buf, 0o644); err != nil {
				logger.Error("write cover", "err", err)
			}
		}
	}

	chapters, _ := d.Chapters()
	for _, c := range chapters {
		fmt.Printf("chapter %s %s\n", hms(util.Rescale(c.Time, info.Timescale, 1_000_000)), c.Name)
	}
}
