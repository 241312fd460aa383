package model

import "fmt"

// FramesFor returns the number of STFT frames a centered transform yields
// for samples input samples.
func FramesFor(samples, hop int) int {
	return samples/hop + 1
}

// Interpolate upsamples segment predictions [batch, segments, classes] by
// ratio along the time axis. "nearest" repeats each segment ratio times;
// "linear" blends neighbouring segments with half-pixel centers, clamped at
// the edges.
func Interpolate(seg *Tensor, ratio int, mode string) (*Tensor, error) {
	if len(seg.Shape) != 3 {
		return nil, fmt.Errorf("interpolate: want rank 3, got shape %v", seg.Shape)
	}
	if ratio < 1 {
		return nil, fmt.Errorf("interpolate: ratio must be positive, got %d", ratio)
	}
	batch, segments, classes := seg.Shape[0], seg.Shape[1], seg.Shape[2]
	frames := segments * ratio
	out := Zeros(batch, frames, classes)

	switch mode {
	case InterpolateNearest, "":
		for b := range batch {
			for s := range segments {
				src := seg.Data[(b*segments+s)*classes : (b*segments+s+1)*classes]
				for r := range ratio {
					f := s*ratio + r
					copy(out.Data[(b*frames+f)*classes:], src)
				}
			}
		}
	case InterpolateLinear:
		scale := 1 / float64(ratio)
		for f := range frames {
			pos := (float64(f)+0.5)*scale - 0.5
			if pos < 0 {
				pos = 0
			}
			i0 := int(pos)
			i1 := min(i0+1, segments-1)
			w1 := float32(pos - float64(i0))
			w0 := 1 - w1
			for b := range batch {
				a := seg.Data[(b*segments+i0)*classes:]
				c := seg.Data[(b*segments+i1)*classes:]
				dst := out.Data[(b*frames+f)*classes : (b*frames+f+1)*classes]
				for k := range dst {
					dst[k] = w0*a[k] + w1*c[k]
				}
			}
		}
	default:
		return nil, fmt.Errorf("interpolate: unknown mode %q", mode)
	}
	return out, nil
}

// PadFrames extends [batch, frames, classes] to n frames by repeating the
// last frame. Longer inputs are cut to n.
func PadFrames(t *Tensor, n int) (*Tensor, error) {
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("pad frames: want rank 3, got shape %v", t.Shape)
	}
	batch, frames, classes := t.Shape[0], t.Shape[1], t.Shape[2]
	if frames == n {
		return t, nil
	}
	if frames == 0 {
		return nil, fmt.Errorf("pad frames: no frame to repeat")
	}

	out := Zeros(batch, n, classes)
	for b := range batch {
		for f := range n {
			src := min(f, frames-1)
			copy(out.Data[(b*n+f)*classes:(b*n+f+1)*classes], t.Data[(b*frames+src)*classes:(b*frames+src+1)*classes])
		}
	}
	return out, nil
}
