package domain

import "sync"

// Mode is the occupancy flag gating manual valve-open commands.
type Mode string

const (
	ModePresent Mode = "present"
	ModeAbsent  Mode = "absent"
)

// ParseMode validates a raw mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePresent, ModeAbsent:
		return Mode(s), nil
	default:
		return "", Validationf("invalid mode %q: use %q or %q", s, ModePresent, ModeAbsent)
	}
}

// ModeCell is the single process-wide occupancy cell. Both the device path
// and the viewer path write it; last writer wins. The zero value is not
// usable, construct with NewModeCell.
type ModeCell struct {
	mu   sync.Mutex
	mode Mode
}

func NewModeCell() *ModeCell {
	return &ModeCell{mode: ModePresent}
}

func (c *ModeCell) Get() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Set stores m and returns the value it replaced.
func (c *ModeCell) Set(m Mode) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.mode
	c.mode = m
	return prev
}
