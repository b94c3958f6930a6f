// Package progress renders a terminal progress bar. A nil *Bar is valid and
// discards all updates.
package progress

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

type Bar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
	max int
}

// New returns a bar writing to w with the given description.
func New(w io.Writer, description string) *Bar {
	return &Bar{
		bar: progressbar.NewOptions(0,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		),
	}
}

// AddMax grows the total by n.
func (b *Bar) AddMax(n int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.max += n
	b.bar.ChangeMax(b.max)
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Finish()
}
