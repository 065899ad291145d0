// Package infer defines the inference collaborator the validation
// coordinator drives. Engines follow a feed/test/visuals cycle: Feed stages
// one sample, Test runs the model, Visuals exposes the named outputs.
package infer

import (
	"context"

	"github.com/framelab/sreval/internal/dataset"
	"github.com/framelab/sreval/internal/imageio"
	"github.com/framelab/sreval/internal/metric"
)

// Visuals are the outputs of one inference step.
type Visuals struct {
	// Result is the super-resolved frame.
	Result *metric.Image

	// GT is the ground-truth frame passed through from the fed item,
	// nil when the dataset has no references.
	GT *metric.Image
}

// Engine runs super-resolution inference for one sample at a time.
type Engine interface {
	// Feed stages the next sample.
	Feed(item dataset.Item)

	// Test runs inference on the staged sample.
	Test(ctx context.Context) error

	// Visuals returns the outputs of the last Test call.
	Visuals() Visuals

	// Release recycles the transient buffers of the current sample. The
	// coordinator calls it once per item to bound peak memory; the staged
	// sample and its visuals are invalid afterwards.
	Release()
}

// base carries the staged sample and output common to all engines.
type base struct {
	lq  *metric.Image
	gt  *metric.Image
	out *metric.Image
}

func (b *base) Feed(item dataset.Item) {
	b.lq = item.LQ
	b.gt = item.GT
	b.out = nil
}

func (b *base) Visuals() Visuals {
	return Visuals{Result: b.out, GT: b.gt}
}

func (b *base) Release() {
	imageio.Recycle(b.lq)
	imageio.Recycle(b.gt)
	imageio.Recycle(b.out)
	b.lq, b.gt, b.out = nil, nil, nil
}
