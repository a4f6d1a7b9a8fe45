package secdb

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Config is the caller-supplied identity and layout of one secdb file.
type Config struct {
	BaseDir string
	DeepDir bool

	Exchange   string
	Symbol     string
	Instrument string
	SecID      int64
	Date       time.Time
	TZName     string
	TZOffsetSeconds int

	Depth           int
	PxStep          float64
	FilePermissions os.FileMode
	UUID            uuid.UUID
}

// withDefaults fills in the defaults spec.md §6 specifies for fields left
// at their zero value.
func (c Config) withDefaults() Config {
	if c.Depth == 0 {
		c.Depth = 5
	}
	if c.PxStep == 0 {
		c.PxStep = 0.0001
	}
	if c.FilePermissions == 0 {
		c.FilePermissions = 0640
	}
	return c
}
