package errors

import (
	"fmt"
)

var (
	ErrInit            = fmt.Errorf("muse: init failure")
	ErrParse           = fmt.Errorf("muse: parse error")
	ErrTool            = fmt.Errorf("muse: tool error")
	ErrContextOverflow = fmt.Errorf("muse: context overflow")
	ErrMemory          = fmt.Errorf("muse: memory error")
	ErrCycleLimit      = fmt.Errorf("muse: cycle limit exceeded")
	ErrNotFound        = fmt.Errorf("muse: not found")
	ErrInvalidParams   = fmt.Errorf("muse: invalid params")
	ErrInvalidConfig   = fmt.Errorf("muse: invalid config")
)
