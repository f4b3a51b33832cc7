package clock

import (
	"time"

	"fieldsync/internal/ports"
)

// System reads attempt timestamps from the wall clock in epoch millis.
type System struct{}

var _ ports.Clock = System{}

func NewSystem() System { return System{} }

func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}
