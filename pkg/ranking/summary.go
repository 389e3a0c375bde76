package ranking

import (
	"time"

	"github.com/ajitpratap0/stratlab/pkg/study"
)

// Summary describes a finished run
type Summary struct {
	TotalTrials     int      `json:"totalTrials"`
	CompletedTrials int      `json:"completedTrials"`
	PrunedTrials    int      `json:"prunedTrials"`
	FailedTrials    int      `json:"failedTrials"`
	RunningTrials   int      `json:"runningTrials"`
	BestTrialNumber *int     `json:"bestTrialNumber"`
	BestValue       *float64 `json:"bestValue"`
	ElapsedSeconds  float64  `json:"elapsedSeconds"`
	MultiProcess    bool     `json:"multiProcess"`
}

// Summarize counts trials by state and takes the best trial from the ranked
// results. Enqueued trials no worker claimed are not counted.
func Summarize(trials []*study.Trial, results []*Result, elapsed time.Duration, multiProcess bool) *Summary {
	s := &Summary{
		ElapsedSeconds: elapsed.Seconds(),
		MultiProcess:   multiProcess,
	}

	for _, t := range trials {
		switch t.State {
		case study.StateComplete:
			s.CompletedTrials++
		case study.StatePruned:
			s.PrunedTrials++
		case study.StateFailed:
			s.FailedTrials++
		case study.StateRunning:
			s.RunningTrials++
		default:
			continue
		}
		s.TotalTrials++
	}

	if len(results) > 0 {
		number := results[0].TrialNumber
		value := results[0].Values[0]
		s.BestTrialNumber = &number
		s.BestValue = &value
	}
	return s
}
