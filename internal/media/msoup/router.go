package msoup

import (
	"context"
	"encoding/json"

	"github.com/jiyeyuran/mediasoup-go"
	"github.com/rs/zerolog/log"

	"github.com/velored/meetmedia/internal/media"
)

type router struct {
	r   *mediasoup.Router
	eng *engine
}

func (r *router) ID() string { return r.r.Id() }

func (r *router) RTPCapabilities() json.RawMessage {
	return marshal(r.r.RtpCapabilities())
}

func (r *router) CreateTransport(ctx context.Context) (media.Transport, error) {
	t, err := r.r.CreateWebRtcTransport(mediasoup.WebRtcTransportOptions{
		ListenIps: []mediasoup.TransportListenIp{
			{Ip: "0.0.0.0", AnnouncedIp: r.eng.opts.AnnouncedIP},
		},
	})
	if err != nil {
		return nil, err
	}
	return &transport{t: t}, nil
}

func (r *router) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	return r.r.CanConsume(producerID, caps)
}

func (r *router) Close() {
	r.r.Close()
}

type transport struct {
	t *mediasoup.WebRtcTransport
}

func (t *transport) ID() string { return t.t.Id() }

func (t *transport) Info() media.TransportInfo {
	return media.TransportInfo{
		ID:             t.t.Id(),
		ICEParameters:  marshal(t.t.IceParameters()),
		ICECandidates:  marshal(t.t.IceCandidates()),
		DTLSParameters: marshal(t.t.DtlsParameters()),
	}
}

func (t *transport) Connect(ctx context.Context, dtlsParameters json.RawMessage) error {
	var dtls mediasoup.DtlsParameters
	if err := json.Unmarshal(dtlsParameters, &dtls); err != nil {
		return err
	}
	return t.t.Connect(mediasoup.TransportConnectOptions{DtlsParameters: &dtls})
}

func (t *transport) Produce(ctx context.Context, kind media.Kind, rtpParameters json.RawMessage) (media.Producer, error) {
	var rtp mediasoup.RtpParameters
	if err := json.Unmarshal(rtpParameters, &rtp); err != nil {
		return nil, err
	}
	p, err := t.t.Produce(mediasoup.ProducerOptions{
		Kind:          mediasoup.MediaKind(kind),
		RtpParameters: rtp,
	})
	if err != nil {
		return nil, err
	}
	return &producer{p: p}, nil
}

func (t *transport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (media.Consumer, error) {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return nil, err
	}
	c, err := t.t.Consume(mediasoup.ConsumerOptions{
		ProducerId:      producerID,
		RtpCapabilities: caps,
		Paused:          true,
	})
	if err != nil {
		return nil, err
	}
	return &consumer{c: c}, nil
}

func (t *transport) Close() {
	t.t.Close()
}

type producer struct {
	p *mediasoup.Producer
}

func (p *producer) ID() string       { return p.p.Id() }
func (p *producer) Kind() media.Kind { return media.Kind(p.p.Kind()) }
func (p *producer) Close()           { p.p.Close() }

type consumer struct {
	c *mediasoup.Consumer
}

func (c *consumer) ID() string         { return c.c.Id() }
func (c *consumer) ProducerID() string { return c.c.ProducerId() }
func (c *consumer) Kind() media.Kind   { return media.Kind(c.c.Kind()) }

func (c *consumer) RTPParameters() json.RawMessage {
	return marshal(c.c.RtpParameters())
}

func (c *consumer) Resume() error { return c.c.Resume() }
func (c *consumer) Close()        { c.c.Close() }

// marshal never fails for mediasoup parameter structs; a failure here would
// mean the engine handed us something non-serializable, which is worth a
// log line but not a crash mid-signal.
func marshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "media.msoup").Err(err).Msg("marshal engine parameters")
		return json.RawMessage("null")
	}
	return b
}
