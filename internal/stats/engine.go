package stats

import (
	"go.uber.org/zap"

	"github.com/vsanmetrics/vsan-exporter/internal/metrics"
)

// Engine converts raw host statistics into metric families.
type Engine struct {
	logger  *zap.Logger
	paths   []PathSpec
	missing MissingFields
}

// NewEngine creates an engine over the default registry and the pre-7.0
// compensation table.
func NewEngine(logger *zap.Logger) *Engine {
	return NewEngineWith(logger, DefaultPaths(), Pre70MissingFields())
}

// NewEngineWith creates an engine over a custom registry.
func NewEngineWith(logger *zap.Logger, paths []PathSpec, missing MissingFields) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:  logger,
		paths:   paths,
		missing: missing,
	}
}

// Convert runs every registry entry against tree in registry order and
// augments the result with the identity labels of info. Entities that fail
// to convert are logged and skipped.
func (e *Engine) Convert(tree *RawTree, info HostInfo) *Accumulator {
	acc := NewAccumulator()
	for _, spec := range e.paths {
		for _, node := range spec.Nodes {
			raw, ok := tree.Node(spec.Path, node)
			if !ok {
				continue
			}
			for _, id := range raw.EntityIDs() {
				fields := raw.Fields(id)
				e.missing.Fill(spec.Path, node, fields)

				b := NewBatch(spec.Path, node, id)
				if err := spec.Convert(b, spec.Path, node, id, fields); err != nil {
					e.logger.Warn("Failed to process metrics of entity",
						zap.String("path", spec.Path),
						zap.String("node", node),
						zap.String("entity", id),
						zap.Error(err))
					metrics.RecordConversionError(spec.Path, node)
					continue
				}
				acc.Commit(b)
			}
		}
	}

	errs := Augment(acc, info)
	for _, err := range errs {
		e.logger.Error("Dropped entity with mismatching host identity",
			zap.String("host_uuid", info.HostUUID),
			zap.Error(err))
	}
	metrics.RecordLabelMismatch(len(errs))
	return acc
}
