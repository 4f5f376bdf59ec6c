package immediate

import (
	"log/slog"

	"github.com/gogpu/immediate/internal/pso"
)

// FrameStats counts the work of one frame, from one Finish(true) to the
// next.
type FrameStats struct {
	NumDraws                uint64
	NumDispatches           uint64
	NumDescriptorWrites     uint64
	NumOutputViewBinds      uint64
	NumPipelineBinds        uint64
	NumPSOs                 uint64
	NumRootSignatures       uint64
	NumMapDiscards          uint64
	NumMapDiscardSkips      uint64
	NumCommandListOverflows uint64
	NumCommandListSplits    uint64
	NumSubmits              uint64
	NumCopies               uint64
}

// LogValue implements slog.LogValuer.
func (s FrameStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("draws", s.NumDraws),
		slog.Uint64("dispatches", s.NumDispatches),
		slog.Uint64("descriptor_writes", s.NumDescriptorWrites),
		slog.Uint64("output_binds", s.NumOutputViewBinds),
		slog.Uint64("pipeline_binds", s.NumPipelineBinds),
		slog.Uint64("psos", s.NumPSOs),
		slog.Uint64("root_signatures", s.NumRootSignatures),
		slog.Uint64("map_discards", s.NumMapDiscards),
		slog.Uint64("map_discard_skips", s.NumMapDiscardSkips),
		slog.Uint64("overflows", s.NumCommandListOverflows),
		slog.Uint64("splits", s.NumCommandListSplits),
		slog.Uint64("submits", s.NumSubmits),
		slog.Uint64("copies", s.NumCopies),
	)
}

// CacheStats reports the pipeline and root signature caches of a device.
type CacheStats struct {
	Pipelines      int
	RootSignatures int
	Hits           uint64
	Misses         uint64
	HitRate        float64
}

func cacheStatsOf(s pso.CacheStats) CacheStats {
	hits := s.Graphics.Hits + s.Compute.Hits + s.RootSignatures.Hits
	misses := s.Graphics.Misses + s.Compute.Misses + s.RootSignatures.Misses
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Pipelines:      s.Graphics.Len + s.Compute.Len,
		RootSignatures: s.RootSignatures.Len,
		Hits:           hits,
		Misses:         misses,
		HitRate:        rate,
	}
}
