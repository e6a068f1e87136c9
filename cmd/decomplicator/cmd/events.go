package cmd

import (
	"fmt"
	"strings"

	"github.com/lucretia/decomplicator/pkg/decomplicator"
)

// watch prints run events until the stream closes, then signals done.
func watch(events *decomplicator.Events, total int, done chan<- struct{}) {
	defer close(done)
	lastTenth := -1
	for ev := range events.C() {
		switch ev.Kind {
		case decomplicator.StepStarted:
			lastTenth = -1
			info("%s %s", paint(titleStyle, fmt.Sprintf("[%d/%d]", ev.Index+1, total)), ev.Label)
		case decomplicator.StepSkipped:
			detail("[%d/%d] %s (already done)", ev.Index+1, total, ev.Label)
		case decomplicator.StepProgress:
			tenth := int(ev.Fraction * 10)
			if tenth != lastTenth {
				lastTenth = tenth
				detail("%3d%% %s", tenth*10, progressBar(ev.Fraction, 20))
			}
		case decomplicator.StepOutput:
			if ev.Stream == "stderr" {
				detail("%s", paint(warnStyle, ev.Line))
			} else {
				detail("%s", ev.Line)
			}
		case decomplicator.StepCompleted:
			info("      %s", paint(okStyle, "done"))
		case decomplicator.StepFailed:
			info("      %s", paint(errStyle, "failed"))
		case decomplicator.RunCompleted:
			info("%s", paint(okStyle, "Provisioning complete."))
		case decomplicator.RunFailed:
			// Reported by the command's error.
		}
	}
}

func progressBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// provision runs fn with an event stream printed to stdout.
func provision(total int, fn func(opts decomplicator.RunOptions) (*decomplicator.Run, error), opts decomplicator.RunOptions) (*decomplicator.Run, error) {
	events := decomplicator.NewEvents()
	done := make(chan struct{})
	go watch(events, total, done)

	opts.Events = events
	run, err := fn(opts)
	events.Close()
	<-done
	return run, err
}
