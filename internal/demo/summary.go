package demo

import (
	"fmt"
	"strings"

	"github.com/dj-oyu/smart-parking/occupancy-server/pkg/types"
)

const (
	imageTitle = "🚗 **Parking Space Analysis Results:**"
	videoTitle = "🎥 **Video Analysis Results (First Frame):**"
)

// Summary formats a markdown report of a. The rate prints 0.0% when there are no slots.
func Summary(title string, a types.FrameAnalysis) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "✅ **Free Spaces:** %d\n", a.Free)
	fmt.Fprintf(&b, "❌ **Occupied Spaces:** %d\n", a.Occupied)
	fmt.Fprintf(&b, "📊 **Total Spaces:** %d\n", a.Total)
	fmt.Fprintf(&b, "📈 **Occupancy Rate:** %.1f%%\n", a.OccupancyRate())
	return b.String()
}
