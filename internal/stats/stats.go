// Package stats summarizes channel intensities so display ranges can be
// chosen without opening the image in an author tool.
//
// Statistics are computed over the lowest-resolution level only. That
// level is small enough to read whole, and its histogram tracks the full
// resolution histogram closely for the purpose of picking a range.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/tile-pyramid/internal/compose"
	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// Quantiles used for the suggested display range.
const (
	LowQuantile  = 0.005
	HighQuantile = 0.995
)

// maxClusterSamples bounds the observations handed to k-means.
const maxClusterSamples = 20000

// ErrNoSamples is returned when a channel has no pixels to measure.
var ErrNoSamples = errors.New("stats: no samples")

// ChannelStats describes one channel in 16-bit units.
type ChannelStats struct {
	Channel int     `json:"channel"`
	Level   int     `json:"level"`
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"std_dev"`
	Low     float64 `json:"low"`
	High    float64 `json:"high"`

	// Threshold splits background from signal: the midpoint between the
	// two k-means cluster centers.
	Threshold float64 `json:"threshold"`
}

// Samples reads one channel of a level, tile by tile, as promoted 16-bit
// values.
func Samples(src pyramid.Source, level, channel int) ([]float64, error) {
	edge := src.Info().NativeTileSize
	if edge <= 0 {
		edge = pyramid.DefaultTileSize
	}
	nx, ny, err := src.LevelTiles(level, edge)
	if err != nil {
		return nil, err
	}
	w, h, err := src.LevelSize(level)
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, w*h)
	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			raw, err := src.FetchTile(level, channel, tx, ty, edge)
			if err != nil {
				return nil, fmt.Errorf("level %d tile (%d,%d): %w", level, tx, ty, err)
			}
			t, err := compose.Normalize(raw)
			if err != nil {
				return nil, err
			}
			if t == nil {
				continue
			}
			for _, v := range t.Samples {
				out = append(out, float64(v))
			}
		}
	}
	return out, nil
}

// Channel computes statistics for one channel over the lowest-resolution
// level of src.
func Channel(src pyramid.Source, channel int) (*ChannelStats, error) {
	shape := src.Shape()
	if channel < 0 || channel >= shape.Channels {
		return nil, fmt.Errorf("%w: %d of %d", pyramid.ErrChannelOutOfRange, channel, shape.Channels)
	}
	level := shape.Levels - 1
	x, err := Samples(src, level, channel)
	if err != nil {
		return nil, err
	}
	return Summarize(x, channel, level)
}

// Summarize computes statistics over x. The slice is sorted in place.
func Summarize(x []float64, channel, level int) (*ChannelStats, error) {
	if len(x) == 0 {
		return nil, ErrNoSamples
	}
	sort.Float64s(x)
	mean, std := stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return &ChannelStats{
		Channel:   channel,
		Level:     level,
		Count:     len(x),
		Min:       floats.Min(x),
		Max:       floats.Max(x),
		Mean:      mean,
		StdDev:    std,
		Low:       stat.Quantile(LowQuantile, stat.Empirical, x, nil),
		High:      stat.Quantile(HighQuantile, stat.Empirical, x, nil),
		Threshold: Threshold(x),
	}, nil
}

// Threshold splits sorted samples into background and signal with
// two-cluster k-means and returns the midpoint of the cluster centers.
// Uniform input returns its single value.
func Threshold(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if sorted[0] == sorted[len(sorted)-1] {
		return sorted[0]
	}

	// Observations are scaled to [0, 1], the range k-means seeds its
	// centers in.
	lo, span := sorted[0], sorted[len(sorted)-1]-sorted[0]
	step := 1
	if len(sorted) > maxClusterSamples {
		step = len(sorted)/maxClusterSamples + 1
	}
	obs := make(clusters.Observations, 0, len(sorted)/step+1)
	for i := 0; i < len(sorted); i += step {
		obs = append(obs, clusters.Coordinates{(sorted[i] - lo) / span})
	}

	km := kmeans.New()
	cc, err := km.Partition(obs, 2)
	if err != nil || len(cc) < 2 {
		return stat.Mean(sorted, nil)
	}
	var centers []float64
	for _, c := range cc {
		if len(c.Observations) > 0 && len(c.Center) > 0 {
			centers = append(centers, c.Center[0])
		}
	}
	if len(centers) < 2 {
		return stat.Mean(sorted, nil)
	}
	return lo + span*(floats.Min(centers)+floats.Max(centers))/2
}

// Method selects how AutoRange picks the low end of a range.
type Method int

const (
	// Quantile uses the 0.5% and 99.5% quantiles.
	Quantile Method = iota
	// Cluster starts the range at the k-means background threshold.
	Cluster
)

func (m Method) String() string {
	switch m {
	case Cluster:
		return "cluster"
	default:
		return "quantile"
	}
}

// ParseMethod maps "quantile" or "cluster" to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "quantile":
		return Quantile, nil
	case "cluster":
		return Cluster, nil
	}
	return Quantile, fmt.Errorf("unknown auto range method %q, want quantile or cluster", s)
}

// AutoRange fills in display ranges for channels that have none, meaning
// High <= Low. Statistics are computed once per source channel. Mask groups
// are left alone.
func AutoRange(src pyramid.Source, groups []pyramid.GroupSpec, method Method) error {
	cache := make(map[int]*ChannelStats)
	for gi := range groups {
		if groups[gi].Mask {
			continue
		}
		for ci := range groups[gi].Channels {
			ch := &groups[gi].Channels[ci]
			if ch.High > ch.Low {
				continue
			}
			st, ok := cache[ch.Index]
			if !ok {
				var err error
				st, err = Channel(src, ch.Index)
				if err != nil {
					return fmt.Errorf("group %q channel %d: %w", groups[gi].Label, ch.Index, err)
				}
				cache[ch.Index] = st
			}
			ch.Low, ch.High = st.Low, st.High
			if method == Cluster && st.Threshold < st.High {
				ch.Low = st.Threshold
			}
		}
	}
	return nil
}
