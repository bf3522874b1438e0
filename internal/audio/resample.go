package audio

// Resampler converts PCM between sample rates using linear interpolation.
// The fractional read position and the last input sample are carried across
// calls so that feeding audio in arbitrary-sized capture callbacks produces
// the same output as feeding it in one piece; resetting the residual at
// buffer boundaries causes audible clicks.
type Resampler struct {
	ratio  float64 // input samples consumed per output sample
	pos    float64 // absolute read position in the input stream
	base   int     // absolute input index of the first sample of the next src
	last   int16
	primed bool
}

// NewResampler creates a resampler from inRate to outRate.
func NewResampler(inRate, outRate int) *Resampler {
	return &Resampler{ratio: float64(inRate) / float64(outRate)}
}

// Process resamples one input buffer, carrying state to the next call.
func (r *Resampler) Process(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}

	var src []int16
	if r.primed {
		src = make([]int16, 0, len(in)+1)
		src = append(src, r.last)
		src = append(src, in...)
	} else {
		src = in
	}

	var out []int16
	pos := r.pos
	for {
		abs := int(pos)
		i := abs - r.base
		if i+1 >= len(src) {
			break
		}
		frac := pos - float64(abs)
		s0 := float64(src[i])
		s1 := float64(src[i+1])
		out = append(out, int16(s0+(s1-s0)*frac))
		pos += r.ratio
	}

	// Only the final sample is kept for the next call. The position stays
	// absolute (so the accumulated float matches one whole-buffer pass); the
	// integer base moves to the carried sample instead.
	r.pos = pos
	r.base += len(src) - 1
	r.last = src[len(src)-1]
	r.primed = true
	return out
}

// Reset clears carried state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.base = 0
	r.last = 0
	r.primed = false
}
