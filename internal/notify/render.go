package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"nockwatch/internal/alert"
	"nockwatch/internal/chain"
	"nockwatch/internal/metrics"
)

const (
	metricsURL = "https://nockblocks.com/metrics?tab=mining"
	volumeURL  = "https://nockblocks.com/metrics"
	blockURL   = "https://nockblocks.com/block/%d"
)

// RenderAlert builds the HTML message for one alert event. Individual
// recipients see their own threshold called out; broadcast messages use
// the global wording.
func RenderAlert(ev alert.Event, snap metrics.Snapshot) string {
	threshold := formatThreshold(ev.Threshold)
	yours := "your threshold of "
	if ev.Broadcast {
		yours = ""
	}

	detail := fmt.Sprintf(
		"Current: <code>%s</code>\nDifficulty: <code>%s</code>",
		snap.Proofrate, snap.Difficulty,
	)

	switch ev.Kind {
	case alert.FloorTripped:
		return fmt.Sprintf(
			"🔴 <b>Low Proofrate Alert!</b>\n\n"+
				"Network proofrate has dropped below %s%s MP/s\n\n%s\n\n"+
				"🔗 <a href='%s'>View Details</a>",
			yours, threshold, detail, metricsURL,
		)
	case alert.FloorRecovered:
		return fmt.Sprintf(
			"✅ <b>Proofrate Recovered!</b>\n\n"+
				"Network proofrate is back above %s%s MP/s\n\n%s",
			yours, threshold, detail,
		)
	case alert.CeilingTripped:
		return fmt.Sprintf(
			"🚀 <b>High Proofrate Alert!</b>\n\n"+
				"Network proofrate has risen above %s%s MP/s\n\n%s\n\n"+
				"🔗 <a href='%s'>View Details</a>",
			yours, threshold, detail, metricsURL,
		)
	case alert.CeilingRecovered:
		return fmt.Sprintf(
			"📉 <b>Proofrate Normalized</b>\n\n"+
				"Network proofrate is back below %s%s MP/s\n\n%s",
			yours, threshold, detail,
		)
	default:
		return ""
	}
}

// RenderMetrics builds the mining metrics overview. The title marker
// shows the proofrate direction against the previous cycle when one is
// known; on the first cycle, or when the rate holds steady, it falls
// back to an absolute health grade. Pass previousRate <= 0 for unknown.
func RenderMetrics(snap metrics.Snapshot, previousRate float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⛏️ <b>Nockchain Mining Metrics</b> %s\n\n", trendMarker(snap.ProofrateMPS, previousRate))
	b.WriteString("<b>📊 Network Stats</b>\n")
	fmt.Fprintf(&b, "├ Difficulty: <code>%s</code>\n", snap.Difficulty)
	fmt.Fprintf(&b, "├ Proofrate: <code>%s</code>\n", snap.Proofrate)
	fmt.Fprintf(&b, "├ Avg Block Time: <code>%s</code>\n", snap.AvgBlockTime)
	fmt.Fprintf(&b, "└ Latest Block: <code>%d</code>\n\n", snap.Height)
	b.WriteString("<b>📈 Epoch Progress</b>\n")
	fmt.Fprintf(&b, "├ Progress: <code>%s</code>\n", snap.EpochProgress)
	fmt.Fprintf(&b, "├ Blocks to Adj: <code>%d</code>\n", snap.BlocksToAdjust)
	fmt.Fprintf(&b, "├ Est. Time to Adj: <code>%s</code>\n", snap.TimeToAdjust)
	fmt.Fprintf(&b, "└ Next Adj Ratio: <code>%s</code>\n\n", snap.NextAdjustment)
	fmt.Fprintf(&b, "🔗 <a href=\"%s\">View on NockBlocks</a>", metricsURL)
	return b.String()
}

// RenderTip builds the latest-block message.
func RenderTip(block *chain.Block, now time.Time) string {
	timeStr := "N/A"
	ageStr := ""
	if block.Timestamp > 0 {
		timeStr = time.Unix(block.Timestamp, 0).UTC().Format("2006-01-02 15:04:05 UTC")
		ageStr = formatAge(now.Unix() - block.Timestamp)
	}

	hash := "N/A"
	if block.Digest != "" {
		hash = block.Digest
		if len(hash) > 16 {
			hash = hash[:16]
		}
		hash += "..."
	}

	return fmt.Sprintf(
		"🧊 <b>Latest Block</b>\n\n"+
			"├ Height: <code>%d</code>\n"+
			"├ Epoch: <code>%d</code>\n"+
			"├ Time: <code>%s</code>\n"+
			"├ Age: <code>%s</code>\n"+
			"└ Hash: <code>%s</code>\n\n"+
			"🔗 <a href='"+blockURL+"'>View on NockBlocks</a>",
		block.Height, block.EpochCounter, timeStr, ageStr, hash, block.Height,
	)
}

func formatAge(seconds int64) string {
	switch {
	case seconds < 0:
		return "just now"
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds ago", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm ago", seconds/3600, (seconds%3600)/60)
	}
}

// RenderVolumeReport builds the trailing-window volume message.
func RenderVolumeReport(report *metrics.VolumeReport) string {
	return fmt.Sprintf(
		"💰 <b>24h Transaction Volume</b>\n\n"+
			"├ Volume: <code>%s NOCK</code>\n"+
			"├ Transactions: <code>%d</code>\n"+
			"└ Blocks: <code>%d</code>\n\n"+
			"🔗 <a href='%s'>View on NockBlocks</a>",
		metrics.RenderVolume(report.Volume), report.TxCount, report.BlockCount, volumeURL,
	)
}

// trendBand is the relative move below which the rate counts as steady.
// Without it the marker would flap on sampling noise between cycles.
const trendBand = 0.02

func trendMarker(current, previous float64) string {
	if previous > 0 {
		switch {
		case current > previous*(1+trendBand):
			return "📈"
		case current < previous*(1-trendBand):
			return "📉"
		}
	}
	return healthMarker(current)
}

// healthMarker grades the proofrate on absolute thresholds.
func healthMarker(mps float64) string {
	switch {
	case mps >= 2.0:
		return "🚀"
	case mps >= 1.5:
		return "✅"
	case mps >= 1.0:
		return "⚠️"
	default:
		return "🔴"
	}
}

func formatThreshold(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
