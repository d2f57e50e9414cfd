package rigol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AcqMode is the waveform points mode of the scope.  In NORMAL mode the scope
// returns the 600 displayed points; in RAW mode it returns its acquisition
// memory
type AcqMode string

// MemDepth is the acquisition memory depth
type MemDepth string

const (
	// AcqNormal returns the displayed points
	AcqNormal AcqMode = "NORMAL"

	// AcqRaw returns the acquisition memory
	AcqRaw AcqMode = "RAW"

	// DepthNormal is the default memory depth, 8k/16k points
	DepthNormal MemDepth = "NORMAL"

	// DepthLong is the long memory depth, 512k/1M points
	DepthLong MemDepth = "LONG"
)

// ParseAcqMode parses the reply to :WAV:POIN:MODE?.  Matching is case sensitive
func ParseAcqMode(s string) (AcqMode, error) {
	switch m := AcqMode(s); m {
	case AcqNormal, AcqRaw:
		return m, nil
	}
	return "", fmt.Errorf("acquisition mode %q is not NORMAL or RAW", s)
}

// ParseMemDepth parses the reply to :ACQ:MEMD?.  Matching is case sensitive
func ParseMemDepth(s string) (MemDepth, error) {
	switch d := MemDepth(s); d {
	case DepthNormal, DepthLong:
		return d, nil
	}
	return "", fmt.Errorf("memory depth %q is not NORMAL or LONG", s)
}

// Selection is the channel or channels to read a waveform from
type Selection int

const (
	// Channel1 reads CH1 only
	Channel1 Selection = iota + 1

	// Channel2 reads CH2 only
	Channel2

	// Both reads CH1 then CH2
	Both
)

// ErrBadSelection is generated when a channel selection is not 1, 2 or BOTH
var ErrBadSelection = errors.New("channel selection must be 1, 2, or BOTH")

// ParseSelection parses "1", "2" or "BOTH" (in any case)
func ParseSelection(s string) (Selection, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "CH1", "CHAN1":
		return Channel1, nil
	case "2", "CH2", "CHAN2":
		return Channel2, nil
	case "BOTH":
		return Both, nil
	}
	return 0, errors.Wrapf(ErrBadSelection, "got %q", s)
}

// Channels lists the channel numbers of the selection, in read order
func (s Selection) Channels() []int {
	switch s {
	case Channel1:
		return []int{1}
	case Channel2:
		return []int{2}
	case Both:
		return []int{1, 2}
	}
	return nil
}

func (s Selection) String() string {
	switch s {
	case Channel1:
		return "1"
	case Channel2:
		return "2"
	case Both:
		return "BOTH"
	}
	return fmt.Sprintf("Selection(%d)", int(s))
}

// Session is the scope configuration as last read or written.  It is
// mutated only by Scope.Refresh and the setters
type Session struct {
	// Channels is the number of displayed channels, 0, 1 or 2
	Channels int `json:"channels"`

	AcqMode  AcqMode  `json:"acqMode"`
	MemDepth MemDepth `json:"memDepth"`

	// TimeScale is the horizontal scale in s/div
	TimeScale float64 `json:"timeScale"`

	// TimeOffset is the horizontal offset in s
	TimeOffset float64 `json:"timeOffset"`
}
