// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package guacclient

import (
	"io"
	"strconv"
	"strings"
)

// mimeAudioL8 and mimeAudioL16 are the two raw PCM formats the client accepts
// without a user-registered factory (§6): signed PCM, native endianness,
// 8 or 16 bits per sample, with a mandatory "rate" parameter and optional
// "channels" (default 1).
const (
	mimeAudioL8  = "audio/L8"
	mimeAudioL16 = "audio/L16"
)

// pcmAudioPlayer reassembles inbound blobs into whole sample frames and
// writes them to sink, buffering any trailing partial frame until the
// next blob completes it — a blob boundary (§6's 8 064-byte ceiling) has
// no relationship to the sample-frame boundary, so frames routinely split
// across two blobs.
type pcmAudioPlayer struct {
	bytesPerSample int // 1 for L8, 2 for L16
	channels       int
	rate           int
	sink           io.Writer
	pending        []byte
}

func parseMimeParams(mimetype string) (base string, params map[string]string) {
	parts := strings.Split(mimetype, ";")
	base = strings.TrimSpace(parts[0])
	params = make(map[string]string)
	for _, p := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		}
	}
	return base, params
}

// newBuiltinAudioPlayer builds a pcmAudioPlayer for audio/L8 or audio/L16,
// or returns nil if mimetype is not one of those two, or the mandatory
// "rate" parameter is missing or non-numeric (§6).
func (c *Client) newBuiltinAudioPlayer(mimetype string) AudioPlayer {
	base, params := parseMimeParams(mimetype)

	var bytesPerSample int
	switch base {
	case mimeAudioL8:
		bytesPerSample = 1
	case mimeAudioL16:
		bytesPerSample = 2
	default:
		return nil
	}

	rateStr, ok := params["rate"]
	if !ok {
		return nil
	}
	rate, err := strconv.Atoi(rateStr)
	if err != nil || rate <= 0 {
		return nil
	}

	channels := 1
	if chStr, ok := params["channels"]; ok {
		if n, err := strconv.Atoi(chStr); err == nil && n > 0 {
			channels = n
		}
	}

	return &pcmAudioPlayer{
		bytesPerSample: bytesPerSample,
		channels:       channels,
		rate:           rate,
		sink:           c.audioSink,
	}
}

// frameSize is the number of bytes one sample frame (one sample per
// channel) occupies on the wire.
func (p *pcmAudioPlayer) frameSize() int {
	return p.bytesPerSample * p.channels
}

// ReceiveData appends data to any buffered partial frame, writes every
// complete frame to the sink, and keeps the remainder (§6's audio split
// scenario: a 20 000-byte L16 mono payload split 8064/8064/3872 must still
// concatenate to exactly 10 000 sample positions).
func (p *pcmAudioPlayer) ReceiveData(data []byte) {
	p.pending = append(p.pending, data...)

	fs := p.frameSize()
	if fs <= 0 {
		return
	}
	whole := (len(p.pending) / fs) * fs
	if whole == 0 {
		return
	}
	if p.sink != nil {
		_, _ = p.sink.Write(p.pending[:whole])
	}
	p.pending = append([]byte(nil), p.pending[whole:]...)
}

// Sync is a no-op for the reference player: it has no internal clock to
// realign, since it writes samples straight through as they arrive.
func (p *pcmAudioPlayer) Sync() {}

// SetAudioSink registers where the built-in PCM players (§6) write
// decoded sample frames. Platform audio output is out of scope (§1); the
// caller is responsible for feeding sink to a real audio device.
func (c *Client) SetAudioSink(sink io.Writer) { c.audioSink = sink }
