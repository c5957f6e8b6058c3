// Package msoup backs the media capability interface with mediasoup worker
// processes (github.com/jiyeyuran/mediasoup-go). Everything protocol-level
// (ICE, DTLS, RTP routing, codec negotiation) happens inside the engine;
// this package only translates between opaque JSON blobs and mediasoup's
// typed parameters.
package msoup

import (
	"context"
	"strconv"

	"github.com/jiyeyuran/mediasoup-go"
	"github.com/rs/zerolog/log"

	"github.com/velored/meetmedia/internal/media"
)

// Options configure every worker and transport the engine creates.
type Options struct {
	// AnnouncedIP is the public address written into ICE candidates.
	AnnouncedIP string
	RTCMinPort  uint16
	RTCMaxPort  uint16
	LogLevel    string
}

type engine struct {
	opts   Options
	codecs []*mediasoup.RtpCodecCapability
}

// NewEngine returns a media.Engine producing mediasoup workers configured
// with the room codec set: Opus plus VP8, mirroring what the client side of
// the product negotiates.
func NewEngine(opts Options) media.Engine {
	if opts.LogLevel == "" {
		opts.LogLevel = "warn"
	}
	return &engine{
		opts: opts,
		codecs: []*mediasoup.RtpCodecCapability{
			{
				Kind:      mediasoup.MediaKind_Audio,
				MimeType:  "audio/opus",
				ClockRate: 48000,
				Channels:  2,
			},
			{
				Kind:      mediasoup.MediaKind_Video,
				MimeType:  "video/VP8",
				ClockRate: 90000,
				Parameters: mediasoup.RtpCodecSpecificParameters{
					XGoogleStartBitrate: 1000,
				},
			},
		},
	}
}

func (e *engine) NewWorker(ctx context.Context) (media.Worker, error) {
	w, err := mediasoup.NewWorker(
		mediasoup.WithLogLevel(mediasoup.WorkerLogLevel(e.opts.LogLevel)),
		mediasoup.WithRtcMinPort(e.opts.RTCMinPort),
		mediasoup.WithRtcMaxPort(e.opts.RTCMaxPort),
	)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "media.msoup").Int("pid", w.Pid()).Msg("worker started")
	return &worker{w: w, eng: e}, nil
}

type worker struct {
	w   *mediasoup.Worker
	eng *engine
}

func (w *worker) ID() string { return strconv.Itoa(w.w.Pid()) }

func (w *worker) CreateRouter(ctx context.Context) (media.Router, error) {
	r, err := w.w.CreateRouter(mediasoup.RouterOptions{
		MediaCodecs: w.eng.codecs,
	})
	if err != nil {
		return nil, err
	}
	return &router{r: r, eng: w.eng}, nil
}

func (w *worker) OnDied(fn func(err error)) {
	w.w.On("died", func(err error) {
		log.Error().Str("module", "media.msoup").Int("pid", w.w.Pid()).Err(err).Msg("worker died")
		fn(err)
	})
}

func (w *worker) Close() {
	w.w.Close()
}
