package video_fetcher

type Phase int

const (
	PhaseInProgress Phase = iota
	PhaseFinished
)

// Progress is a single byte-level progress event from an acquisition. Total <= 0 means the size is unknown.
type Progress struct {
	Downloaded int64
	Total      int64
	Phase      Phase
}

// Percent returns the completion percentage, clamped to [0, 100], or false if the total is unknown.
func (p Progress) Percent() (float64, bool) {
	if p.Total <= 0 {
		return 0, false
	}
	percent := float64(p.Downloaded) / float64(p.Total) * 100
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	return percent, true
}

func (p Progress) IsFinished() bool {
	return p.Phase == PhaseFinished
}
