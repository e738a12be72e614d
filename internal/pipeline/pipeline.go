// Package pipeline runs the complete drawing-to-program flow for one job and
// processes batches of independent jobs on a bounded worker pool.
//
// One job goes through classification, duplicate removal, composite
// detection, normalization, planning and emission. Every stage is
// synchronous; the only concurrency lives in RunBatch, where jobs share
// nothing but the read-only configuration.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/nc-tools-mcp/internal/config"
	"github.com/ironsheep/nc-tools-mcp/internal/contour"
	"github.com/ironsheep/nc-tools-mcp/internal/detection"
	"github.com/ironsheep/nc-tools-mcp/internal/feature"
	"github.com/ironsheep/nc-tools-mcp/internal/logging"
	"github.com/ironsheep/nc-tools-mcp/internal/machining"
	"github.com/ironsheep/nc-tools-mcp/internal/ncgen"
	"github.com/ironsheep/nc-tools-mcp/internal/normalize"
	"github.com/ironsheep/nc-tools-mcp/internal/planner"
)

// Job is one drawing to process.
type Job struct {
	// Name labels the job in logs and results.
	Name string `json:"name,omitempty"`

	// Contours are classified into features. Ignored when Features is set.
	// A job with neither plans nothing and yields a minimal program.
	Contours []contour.RawContour `json:"contours,omitempty"`

	// Features skip classification when already known.
	Features feature.Set `json:"features,omitempty"`

	Directive *machining.Directive `json:"directive"`

	// Strategy selects the reference point; empty uses the configured one.
	Strategy normalize.Strategy `json:"strategy,omitempty"`

	// Origin is the reference point for the Custom strategy.
	Origin *feature.Point `json:"origin,omitempty"`

	Mode   ncgen.Mode `json:"mode,omitempty"`
	Number int        `json:"number,omitempty"`
	Title  string     `json:"title,omitempty"`
}

// Result is the outcome of one job. Err is set when the job failed; the
// other fields then hold whatever stages completed.
type Result struct {
	Name  string `json:"name,omitempty"`
	RunID string `json:"run_id"`

	Classified   int `json:"classified"`
	Unclassified int `json:"unclassified"`

	Composite *detection.CompositeResult `json:"composite,omitempty"`
	Reference *normalize.ReferencePoint  `json:"reference,omitempty"`
	Recipe    *planner.ProcessRecipe     `json:"recipe,omitempty"`
	Program   *ncgen.Program             `json:"program,omitempty"`

	// Diagnostics collects composite detection and planning findings.
	Diagnostics machining.Diagnostics `json:"diagnostics,omitempty"`

	Err error `json:"-"`
}

// Runner holds the configured components shared by every job.
type Runner struct {
	cfg        config.Config
	log        logrus.FieldLogger
	composer   *detection.Composer
	normalizer *normalize.Normalizer
	planner    *planner.Planner
	emitter    *ncgen.Emitter
}

// New returns a Runner for cfg. A nil logger discards output.
func New(cfg config.Config, log logrus.FieldLogger) *Runner {
	log = logging.OrDiscard(log)
	return &Runner{
		cfg:        cfg,
		log:        log.WithField("component", "pipeline"),
		composer:   detection.NewComposer(cfg.Tolerances, log),
		normalizer: normalize.New(log),
		planner:    planner.New(cfg, log),
		emitter:    ncgen.New(cfg, log),
	}
}

// Run processes one job.
//
// Parameters:
//   - job: The drawing and its directive. The job is not modified.
//
// Returns:
//   - *Result: Every intermediate product, with RunID set.
//   - error: The first fatal error (invalid directive, unknown strategy,
//     ErrNoStages, an invariant violation). The result is returned as well.
func (r *Runner) Run(job Job) (*Result, error) {
	res := &Result{Name: job.Name, RunID: ulid.Make().String()}
	res.Err = r.run(job, res)
	return res, res.Err
}

func (r *Runner) run(job Job, res *Result) error {
	log := r.log.WithFields(logrus.Fields{"job": job.Name, "run": res.RunID})
	if job.Directive == nil {
		return fmt.Errorf("%w: missing directive", machining.ErrInvalidDirective)
	}
	if err := job.Directive.Validate(); err != nil {
		return err
	}

	var set feature.Set
	switch {
	case len(job.Features) > 0:
		if err := job.Features.Validate(); err != nil {
			return err
		}
		set = job.Features.Clone()
		res.Classified = len(set)
	case len(job.Contours) > 0:
		cl := detection.ClassifyAll(job.Contours)
		set = cl.Features
		res.Classified, res.Unclassified = cl.Count, cl.Unclassified
	}

	res.Composite = r.composer.Resolve(set, job.Directive)
	res.Diagnostics = append(res.Diagnostics, res.Composite.Diagnostics...)
	set = res.Composite.Features.Clone()

	strategy := job.Strategy
	if strategy == "" {
		strategy = normalize.Strategy(r.cfg.Strategy)
	}
	var origin *r2.Point
	if job.Origin != nil {
		o := job.Origin.R2()
		origin = &o
	}
	ref, err := r.normalizer.Apply(set, strategy, origin)
	if err != nil {
		return err
	}
	res.Reference = &ref

	rc, err := r.planner.Plan(set, job.Directive)
	if err != nil {
		return err
	}
	res.Recipe = rc
	res.Diagnostics = append(res.Diagnostics, rc.Diagnostics...)

	prog, err := r.emitter.Emit(rc, ncgen.Options{
		Mode:   job.Mode,
		Number: job.Number,
		Title:  job.Title,
		RunID:  res.RunID,
	})
	if err != nil {
		return err
	}
	res.Program = prog

	log.WithFields(logrus.Fields{
		"features":    len(set),
		"stages":      prog.StageCount,
		"diagnostics": len(res.Diagnostics),
	}).Info("job finished")
	return nil
}

// RunBatch processes jobs on a pool of cfg.Workers goroutines.
//
// Results are returned in job order. A failing job only sets its own
// Result.Err. The context is checked before each job starts; jobs not
// started when it is cancelled get the context error.
func (r *Runner) RunBatch(ctx context.Context, jobs []Job) []*Result {
	results := make([]*Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	batchID := ulid.Make().String()
	r.log.WithFields(logrus.Fields{"batch": batchID, "jobs": len(jobs), "workers": workers}).Info("batch started")

	in := make(chan int, workers*2)
	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for i := range in {
			if err := ctx.Err(); err != nil {
				results[i] = &Result{Name: jobs[i].Name, RunID: ulid.Make().String(), Err: err}
				continue
			}
			results[i], _ = r.Run(jobs[i])
		}
	}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go worker()
	}
	for i := range jobs {
		in <- i
	}
	close(in)
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	r.log.WithFields(logrus.Fields{"batch": batchID, "jobs": len(jobs), "failed": failed}).Info("batch finished")
	return results
}
