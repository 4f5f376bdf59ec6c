package immediate

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/immediate/gpucore"
)

// SubmissionPolicy decides how eagerly the graphics command list is
// submitted after a draw or dispatch.
type SubmissionPolicy uint8

// Submission policies, from most to least throughput.
const (
	// SubmitUnbound submits only when a command list overflows, when the
	// CPU has to wait for the GPU, and on Flush or Finish.
	SubmitUnbound SubmissionPolicy = iota

	// SubmitPerPipeline also submits before a draw or dispatch that
	// changes the pipeline object.
	SubmitPerPipeline

	// SubmitPerDraw submits after every draw.
	SubmitPerDraw

	// SubmitSync submits after every draw and waits for the GPU to finish
	// it, so GPU faults surface at the call that caused them.
	SubmitSync
)

// String returns the policy name.
func (p SubmissionPolicy) String() string {
	switch p {
	case SubmitUnbound:
		return "unbound"
	case SubmitPerPipeline:
		return "per-pipeline"
	case SubmitPerDraw:
		return "per-draw"
	case SubmitSync:
		return "sync"
	default:
		return fmt.Sprintf("SubmissionPolicy(%d)", p)
	}
}

// Config holds device configuration. Use [DefaultConfig] and options
// rather than filling it by hand.
type Config struct {
	// Label prefixes backend object labels.
	Label string

	// Policy is the initial submission policy.
	Policy SubmissionPolicy

	// Debug enables structural validation: descriptor offset mismatches,
	// no-overwrite copies into busy resources and out-of-range slots panic
	// instead of being skipped.
	Debug bool

	// Logger overrides the package-wide logger.
	Logger *slog.Logger

	// Occlusion, timestamp and pipeline-statistics query slots.
	OcclusionQueries  uint32
	TimestampQueries  uint32
	StatisticsQueries uint32

	// Descriptors is the descriptor window of each command list. It is
	// clamped to the backend limits.
	Descriptors gpucore.Limits
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		Label:             "immediate",
		Policy:            SubmitUnbound,
		OcclusionQueries:  64,
		TimestampQueries:  1024,
		StatisticsQueries: 16,
		Descriptors:       gpucore.DefaultLimits(),
	}
}

// Validate reports a configuration that cannot work.
func (c *Config) Validate() error {
	if c.Policy > SubmitSync {
		return fmt.Errorf("immediate: unknown submission policy %d", c.Policy)
	}
	if c.OcclusionQueries == 0 || c.TimestampQueries == 0 || c.StatisticsQueries == 0 {
		return fmt.Errorf("immediate: query capacity must be positive (occlusion %d, timestamp %d, statistics %d)",
			c.OcclusionQueries, c.TimestampQueries, c.StatisticsQueries)
	}
	for h := gpucore.HeapType(0); h < gpucore.HeapTypeCount; h++ {
		if c.Descriptors.Capacity(h) == 0 {
			return fmt.Errorf("immediate: %s descriptor capacity must be positive", h)
		}
	}
	return nil
}

// logger returns the configured logger or the package-wide one.
func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return Logger()
}

// Option configures a Device during creation.
//
// Example:
//
//	dev, err := immediate.NewDevice(backend,
//	    immediate.WithSubmissionPolicy(immediate.SubmitPerDraw),
//	    immediate.WithDebugValidation(true),
//	)
type Option func(*Config)

// WithSubmissionPolicy sets the initial submission policy.
func WithSubmissionPolicy(p SubmissionPolicy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

// WithDebugValidation turns structural invariant violations into panics.
func WithDebugValidation(enabled bool) Option {
	return func(c *Config) {
		c.Debug = enabled
	}
}

// WithLogger sets the logger of the device, overriding [SetLogger].
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithQueryCapacity sets the slot counts of the occlusion, timestamp and
// pipeline-statistics query heaps.
func WithQueryCapacity(occlusion, timestamp, statistics uint32) Option {
	return func(c *Config) {
		c.OcclusionQueries = occlusion
		c.TimestampQueries = timestamp
		c.StatisticsQueries = statistics
	}
}

// WithDescriptorCapacity sets the descriptor window of each command list.
func WithDescriptorCapacity(l gpucore.Limits) Option {
	return func(c *Config) {
		c.Descriptors = l
	}
}

// WithLabel sets the label prefix of backend objects.
func WithLabel(label string) Option {
	return func(c *Config) {
		c.Label = label
	}
}
