package rigol

import (
	"strconv"

	"github.com/coldatomlab/labctl/oscilloscope"
)

// Rescale converts raw waveform bytes to volts.  The byte value runs opposite
// to the voltage and the screen spans 25 counts per division, centered on
// count 130 once the channel offset is accounted for
func Rescale(raw []byte, offset, scale float64) []float64 {
	out := make([]float64, len(raw))
	for i, b := range raw {
		out[i] = ((255 - float64(b)) - 130 - offset/scale*25) / 25 * scale
	}
	return out
}

// TimeAxis is the time of each of n samples spanning divisions divisions of
// timeScale s/div, centered on timeOffset
func TimeAxis(n int, timeScale, divisions, timeOffset float64) []float64 {
	span := timeScale * divisions
	dt := span / float64(n)
	out := make([]float64, n)
	for i := range out {
		out[i] = -span/2 + float64(i)*dt + timeOffset
	}
	return out
}

// ChannelData is the readout of one channel with the vertical settings in
// effect when it was taken.  Raw excludes the reply header
type ChannelData struct {
	Channel int
	Raw     []byte
	Offset  float64
	Scale   float64
}

// Decode builds a trace from channel readouts.  Each channel is rescaled
// with its own offset and scale; the time axis follows the first readout
func Decode(sess Session, divisions float64, data []ChannelData) oscilloscope.Trace {
	if len(data) == 0 {
		return oscilloscope.Trace{}
	}
	tr := oscilloscope.Trace{
		Time:     TimeAxis(len(data[0].Raw), sess.TimeScale, divisions, sess.TimeOffset),
		Channels: make([]oscilloscope.Column, len(data)),
	}
	for i, d := range data {
		tr.Channels[i] = oscilloscope.Column{
			Name:  "CH" + strconv.Itoa(d.Channel),
			Volts: Rescale(d.Raw, d.Offset, d.Scale),
		}
	}
	return tr
}
