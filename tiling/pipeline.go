package tiling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Result is the denoised prediction for one input image.
type Result struct {
	Index        int           `json:"index"`
	RunID        string        `json:"runId"`
	Source       string        `json:"source"`
	Width        int           `json:"width"`
	Height       int           `json:"height"`
	PaddedWidth  int           `json:"paddedWidth"`
	PaddedHeight int           `json:"paddedHeight"`
	Factor       int           `json:"factor"`
	Tile         TileSize      `json:"tile"`
	Grid         *LabelGrid    `json:"grid,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Sink receives every successfully processed image
type Sink interface {
	Save(ctx context.Context, r *Result) error
}

// Pipeline runs pad, partition, classify, assemble and denoise for each image.
// Images are processed one at a time. Within an image, blocks are classified
// sequentially unless Workers > 1.
type Pipeline struct {
	Tile           TileSize
	BatchSize      int
	Fill           uint8
	Policy         FactorPolicy
	FactorOverride int
	Classifier     Classifier
	Denoiser       *Denoiser
	Workers        int
	Logger         *zap.Logger

	// RunID groups the results of one RunAll invocation. When empty, every
	// RunAll generates its own.
	RunID string
}

func (p *Pipeline) check() error {
	if !p.Tile.Valid() {
		return fmt.Errorf("invalid tile size %s", p.Tile)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", p.BatchSize)
	}
	if p.Classifier == nil {
		return fmt.Errorf("no classifier configured")
	}
	if p.Denoiser == nil {
		return fmt.Errorf("no denoiser configured")
	}
	if p.Denoiser.ClassN <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidClassCount, p.Denoiser.ClassN)
	}
	return nil
}

// Prepare pads img and plans its blocks without classifying anything
func (p *Pipeline) Prepare(img *Image) (*Image, *Plan, error) {
	padded := Pad(img, p.Tile, p.Fill)
	factor, err := ResolveFactor(p.Policy, padded.Height, p.FactorOverride)
	if err != nil {
		return nil, nil, err
	}
	plan, err := PlanBlocks(padded.Height, padded.Width, p.Tile, factor)
	if err != nil {
		return nil, nil, err
	}
	return padded, plan, nil
}

// Run processes a single image. index is its position in the source sequence.
func (p *Pipeline) Run(ctx context.Context, index int, img *Image) (*Result, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	log := orNop(p.Logger)
	start := time.Now()

	padded, plan, err := p.Prepare(img)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", index, err)
	}
	log.Info("processing image",
		zap.Int("index", index),
		zap.Int("width", img.Width),
		zap.Int("height", img.Height),
		zap.Int("paddedWidth", padded.Width),
		zap.Int("paddedHeight", padded.Height),
		zap.Int("factor", plan.Factor),
		zap.Int("blocks", len(plan.Blocks)))

	blocks, err := p.classifyBlocks(ctx, padded, plan)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", index, err)
	}

	raw, err := Assemble(plan, blocks)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", index, err)
	}
	if err := raw.Validate(p.Denoiser.ClassN); err != nil {
		return nil, fmt.Errorf("image %d: %w", index, err)
	}

	denoiser := *p.Denoiser
	if denoiser.Logger == nil {
		denoiser.Logger = log
	}
	grid, err := denoiser.Denoise(raw)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", index, err)
	}

	res := &Result{
		Index:        index,
		RunID:        p.RunID,
		Width:        img.Width,
		Height:       img.Height,
		PaddedWidth:  padded.Width,
		PaddedHeight: padded.Height,
		Factor:       plan.Factor,
		Tile:         p.Tile,
		Grid:         grid,
		Duration:     time.Since(start),
		CreatedAt:    time.Now().UTC(),
	}
	log.Info("image complete",
		zap.Int("index", index),
		zap.Int("rows", grid.Rows),
		zap.Int("cols", grid.Cols),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) classifyBlocks(ctx context.Context, img *Image, plan *Plan) ([]BlockLabels, error) {
	log := orNop(p.Logger)
	results := make([]BlockLabels, len(plan.Blocks))

	classify := func(ctx context.Context, i int) error {
		b := plan.Blocks[i]
		labels, err := ClassifyBlock(ctx, p.Classifier, img, b, p.Tile, p.BatchSize)
		if err != nil {
			return err
		}
		results[i] = BlockLabels{Block: b, Labels: labels}
		log.Debug("block classified",
			zap.Int("row", b.Row),
			zap.Int("col", b.Col),
			zap.Int("tiles", b.TileCount()),
			zap.Int("batches", (b.TileCount()+p.BatchSize-1)/p.BatchSize))
		return nil
	}

	if p.Workers <= 1 {
		for i := range plan.Blocks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := classify(ctx, i); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)
	for i := range plan.Blocks {
		g.Go(func() error {
			return classify(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunAll processes every image of src in index order and hands each result
// to the sinks. The first failure stops the run; nothing is saved for the
// failing image.
func (p *Pipeline) RunAll(ctx context.Context, src ImageSource, sinks ...Sink) error {
	return p.RunEach(ctx, src, nil, sinks...)
}

// RunEach is RunAll with a callback invoked before and after each image.
// status is "running", "done" or "failed".
func (p *Pipeline) RunEach(ctx context.Context, src ImageSource, progress func(index int, name, status string), sinks ...Sink) error {
	runID := p.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := orNop(p.Logger).With(zap.String("runId", runID))
	notify := func(i int, name, status string) {
		if progress != nil {
			progress(i, name, status)
		}
	}

	log.Info("run started", zap.Int("images", src.Len()))
	for i := 0; i < src.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := src.Name(i)
		notify(i, name, StatusRunning)

		res, err := p.runOne(ctx, src, i)
		if err != nil {
			notify(i, name, StatusFailed)
			log.Error("image failed", zap.Int("index", i), zap.String("source", name), zap.Error(err))
			return err
		}
		res.Source = name
		res.RunID = runID

		for _, s := range sinks {
			if err := s.Save(ctx, res); err != nil {
				notify(i, name, StatusFailed)
				return fmt.Errorf("image %d: saving result: %w", i, err)
			}
		}
		notify(i, name, StatusDone)
	}
	log.Info("run complete", zap.Int("images", src.Len()))
	return nil
}

func (p *Pipeline) runOne(ctx context.Context, src ImageSource, i int) (*Result, error) {
	img, err := src.Load(i)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", i, err)
	}
	return p.Run(ctx, i, img)
}
