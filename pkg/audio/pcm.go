// Package audio provides helpers for raw PCM16 little-endian audio as it
// flows through the voicemesh session fabric: even-length enforcement,
// sample accounting, and mono resampling between the browser's 16 kHz
// capture rate and whatever rate the voice model emits.
//
// Every byte span handled by this package represents 16-bit signed
// little-endian mono samples. An odd-length span cannot be viewed as int16
// samples downstream, so [PadEven] is applied at both ingress and egress —
// neither side of the fabric assumes the other is well-behaved.
package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// SessionRate is the PCM sample rate of the client leg of the fabric.
// Browsers capture and play back at 16 kHz mono.
const SessionRate = 16000

// PadEven returns pcm with a single trailing zero byte appended when the
// length is odd. Even-length input is returned unchanged (zero allocation).
func PadEven(pcm []byte) []byte {
	if len(pcm)%2 == 0 {
		return pcm
	}
	out := make([]byte, len(pcm)+1)
	copy(out, pcm)
	return out
}

// SampleCount returns the number of whole int16 samples in pcm.
func SampleCount(pcm []byte) int { return len(pcm) / 2 }

// Duration returns the playback duration in milliseconds of pcm at rate.
func Duration(pcm []byte, rate int) int {
	if rate <= 0 {
		return 0
	}
	return SampleCount(pcm) * 1000 / rate
}

// Normalizer converts mono PCM16 chunks from a source rate to a target rate
// and guarantees the even-length invariant on its output. It logs a warning
// on the first odd-length chunk it sees. Create one per stream; not designed
// for shared use across goroutines.
type Normalizer struct {
	SourceRate int
	TargetRate int
	warnedOdd  sync.Once
}

// Normalize pads chunk to even length and resamples it to the target rate.
// A nil or empty chunk is returned as-is.
func (n *Normalizer) Normalize(chunk []byte) []byte {
	if len(chunk) == 0 {
		return chunk
	}
	if len(chunk)%2 != 0 {
		n.warnedOdd.Do(func() {
			slog.Warn("audio: odd-length PCM chunk, padding",
				"bytes", len(chunk),
				"source_rate", n.SourceRate,
			)
		})
		chunk = PadEven(chunk)
	}
	if n.SourceRate == n.TargetRate || n.SourceRate <= 0 || n.TargetRate <= 0 {
		return chunk
	}
	return ResampleMono16(chunk, n.SourceRate, n.TargetRate)
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// FormatString returns a human-readable string for a mono PCM rate,
// e.g. "16000Hz mono".
func FormatString(rate int) string {
	return fmt.Sprintf("%dHz mono", rate)
}
