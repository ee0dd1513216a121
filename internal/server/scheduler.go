package server

import (
	"context"
	"time"

	"github.com/zsiec/wscast/internal/media"
	"github.com/zsiec/wscast/internal/wire"
	"github.com/zsiec/wscast/internal/ws"
)

const (
	// containerTickMs is the pacing granularity for container streams.
	containerTickMs = 10

	statusInterval = 30 * time.Second

	// auLogEvery throttles the per-session raw delivery debug log.
	auLogEvery = 25
)

// tickInterval is the pacing ticker period: the stream's frame interval
// for raw sources, a fixed 10 ms for container sources.
func (s *Server) tickInterval() time.Duration {
	if s.stream.IsContainer() {
		return containerTickMs * time.Millisecond
	}
	iv := s.stream.FrameIntervalMs()
	if iv < 1 {
		iv = 1
	}
	return time.Duration(iv) * time.Millisecond
}

func (s *Server) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()
	status := time.NewTicker(statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		case <-status.C:
			s.logStatus()
		}
	}
}

// tick delivers media to every Streaming session and collects sessions
// whose negotiation deadline passed, closing those after the sweep.
func (s *Server) tick(now time.Time) {
	var expired []*session
	for _, c := range s.snapshot() {
		switch c.State() {
		case StateNegotiating:
			if c.negotiationExpired(now) {
				expired = append(expired, c)
			}
		case StateStreaming:
			if s.stream.IsContainer() {
				s.sendContainer(c, now)
			} else {
				s.sendRaw(c, now)
			}
		}
	}
	for _, c := range expired {
		c.log.Info("negotiation timed out")
		c.shutdown(ws.CloseFrame(ws.ClosePolicyViolation, "Negotiation timeout"))
	}
}

// sendRaw pushes exactly one access unit, wrapping around at the end of
// the stream. The timestamp keeps counting across wraps so playback
// time stays monotonic.
func (s *Server) sendRaw(c *session, now time.Time) {
	aus := s.stream.AccessUnits
	idx := int(c.auIndex % int64(len(aus)))
	au := aus[idx]

	if c.auIndex%auLogEvery == 0 {
		c.log.Debug("sending access unit", "index", idx, "total", len(aus))
	}

	ts := c.auIndex * s.stream.FrameIntervalMs()
	ft := accessUnitFrameType(au, s.stream.Codec)
	frames := wire.EncodeVideo(au.Data, wireVideoCodec(s.stream.Codec), ft, ts, now.UnixMilli(), s.nextFrameID())
	c.auIndex++

	for _, f := range frames {
		if !c.send(ws.EncodeFrame(ws.OpBinary, f)) {
			return
		}
	}
}

// sendContainer drains every packet due at the session's playback
// position, then advances the position by one tick. Timestamps are the
// effective PTS, which keeps growing as the stream loops.
func (s *Server) sendContainer(c *session, now time.Time) {
	pkts := s.stream.Packets
	count := int64(len(pkts))
	firstPTS := pkts[0].PTS

	for {
		loop := c.packetIndex / count
		pkt := pkts[c.packetIndex%count]
		effPTS := (pkt.PTS - firstPTS) + loop*s.stream.DurationMs
		if effPTS > c.playbackTimeMs {
			break
		}
		if !s.sendPacket(c, pkt, effPTS, now) {
			return
		}
		c.packetIndex++
	}
	c.playbackTimeMs += containerTickMs
}

func (s *Server) sendPacket(c *session, pkt media.Packet, ts int64, now time.Time) bool {
	var frames [][]byte
	switch pkt.Kind {
	case media.Video:
		ft := packetFrameType(pkt.Data, s.stream.Codec)
		frames = wire.EncodeVideo(pkt.Data, wireVideoCodec(s.stream.Codec), ft, ts, now.UnixMilli(), s.nextFrameID())
	case media.Audio:
		audio := s.stream.Audio
		if audio == nil {
			return true
		}
		frames = wire.EncodeAudio(pkt.Data, wireAudioCodec(audio.Codec),
			wire.SampleRateCode(audio.SampleRate), byte(audio.Channels),
			ts, now.UnixMilli(), s.nextFrameID())
	default:
		return true
	}

	for _, f := range frames {
		if !c.send(ws.EncodeFrame(ws.OpBinary, f)) {
			return false
		}
	}
	return true
}

// nextFrameID returns the shared frame counter and advances it. All
// fragments of one encoded payload carry the same value.
func (s *Server) nextFrameID() uint16 {
	id := s.frameID
	s.frameID++
	return id
}
