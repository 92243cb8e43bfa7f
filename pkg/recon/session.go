package recon

import "fmt"

// Tick times are HHMMSSmmm integers, e.g. 93000540 is 09:30:00.540.

// Window is a half-open [Start, End) intraday interval.
type Window struct {
	Start int64
	End   int64
}

func (w Window) contains(t int64) bool { return t >= w.Start && t < w.End }

// SessionFilter encodes one exchange's two continuous-auction windows.
// The afternoon close differs by exchange: Shanghai runs to 15:00 while
// Shenzhen cuts over to a closing call auction at 14:57, so the filter is
// supplied per invocation rather than baked into the engine.
type SessionFilter struct {
	Morning   Window
	Afternoon Window
}

// Shanghai: no closing call auction, afternoon runs to 15:00.
func ShanghaiSessions() SessionFilter {
	return SessionFilter{
		Morning:   Window{Start: 93000000, End: 113000000},
		Afternoon: Window{Start: 130000000, End: 150000000},
	}
}

// Shenzhen: closing call auction occupies 14:57-15:00.
func ShenzhenSessions() SessionFilter {
	return SessionFilter{
		Morning:   Window{Start: 93000000, End: 113000000},
		Afternoon: Window{Start: 130000000, End: 145700000},
	}
}

// InContinuousSession reports whether tickTime falls inside either
// continuous-auction window. Opening call auction, the silent period,
// lunch break and anything at or after the afternoon close are excluded.
func (f SessionFilter) InContinuousSession(tickTime int64) bool {
	return f.Morning.contains(tickTime) || f.Afternoon.contains(tickTime)
}

// Intraday phases reported by SessionOf.
const (
	PhaseClosed       = "closed"
	PhaseOpenAuction  = "open_auction"
	PhaseSilent       = "silent"
	PhaseMorning      = "morning_continuous"
	PhaseLunchBreak   = "lunch_break"
	PhaseAfternoon    = "afternoon_continuous"
	PhaseCloseAuction = "close_auction"
)

const (
	openAuctionStart = 91500000
	openAuctionEnd   = 92500000
	closeAuctionEnd  = 150000000
)

// SessionOf names the trading phase containing tickTime. The close-auction
// phase only exists on exchanges whose afternoon window ends before 15:00.
func (f SessionFilter) SessionOf(tickTime int64) string {
	switch {
	case tickTime < openAuctionStart:
		return PhaseClosed
	case tickTime < openAuctionEnd:
		return PhaseOpenAuction
	case tickTime < f.Morning.Start:
		return PhaseSilent
	case tickTime < f.Morning.End:
		return PhaseMorning
	case tickTime < f.Afternoon.Start:
		return PhaseLunchBreak
	case tickTime < f.Afternoon.End:
		return PhaseAfternoon
	case tickTime < closeAuctionEnd && f.Afternoon.End < closeAuctionEnd:
		return PhaseCloseAuction
	default:
		return PhaseClosed
	}
}

// SplitTickTime decomposes an HHMMSSmmm stamp.
func SplitTickTime(tickTime int64) (hour, minute, second, milli int) {
	milli = int(tickTime % 1000)
	tickTime /= 1000
	second = int(tickTime % 100)
	tickTime /= 100
	minute = int(tickTime % 100)
	hour = int(tickTime / 100)
	return
}

// FormatTickTime renders an HHMMSSmmm stamp as "HH:MM:SS.mmm".
func FormatTickTime(tickTime int64) string {
	h, m, s, ms := SplitTickTime(tickTime)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
