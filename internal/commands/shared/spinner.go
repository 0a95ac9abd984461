// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const spinnerInterval = 100 * time.Millisecond

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows a wait indicator with elapsed time while the model answers.
// With animate=false it only measures time and writes nothing.
type Spinner struct {
	out     io.Writer
	animate bool

	mu      sync.Mutex
	started time.Time
	stop    chan struct{}
	stopped chan struct{}
}

// NewSpinner creates a spinner writing to out.
func NewSpinner(out io.Writer, animate bool) *Spinner {
	return &Spinner{out: out, animate: animate}
}

// Start begins the animation. It is a no-op while already running.
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	s.started = time.Now()
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	if !s.animate {
		close(s.stopped)
		return
	}
	go s.run(message, s.started, s.stop, s.stopped)
}

// Stop ends the animation, clears the line and returns the time since
// Start. It returns zero when the spinner is not running.
func (s *Spinner) Stop() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return 0
	}

	close(s.stop)
	<-s.stopped
	s.stop, s.stopped = nil, nil
	return time.Since(s.started)
}

// run owns s.out until stopped is closed.
func (s *Spinner) run(message string, started time.Time, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		fmt.Fprintf(s.out, "\r\033[K%s %s %s",
			Muted.Render(spinnerFrames[frame%len(spinnerFrames)]),
			message,
			Muted.Render("("+formatElapsed(time.Since(started))+")"))

		select {
		case <-stop:
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-ticker.C:
		}
	}
}

// formatElapsed renders d as "12s" or "1m 23s".
func formatElapsed(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs%60 == 0:
		return fmt.Sprintf("%dm", secs/60)
	default:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
}
