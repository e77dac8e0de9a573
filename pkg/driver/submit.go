package driver

import (
	"context"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/evaluator"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/telemetry"
)

// Job describes one evaluator launch. Fragment fields are paths to CUE files
// or directories.
type Job struct {
	EvaluatorID string
	Process     *launch.ProcessDescriptor
	Files       []string
	Libraries   []string

	Context string
	Service string
	Task    string
}

// Submit allocates an evaluator for job and launches it. Without a context
// fragment the job must carry a task, which is launched with the generated
// root context. The evaluator is returned even when the launch fails so its
// state can be inspected.
func (d *Driver) Submit(ctx context.Context, job Job) (ev *evaluator.AllocatedEvaluator, err error) {
	if job.Context == "" && job.Task == "" {
		return nil, engine.NewPermanentError("a job needs a context or a task", nil).
			WithCode(engine.ErrCodeValidation)
	}
	if job.Context == "" && job.Service != "" {
		return nil, engine.NewPermanentError("a service needs a context", nil).
			WithCode(engine.ErrCodeValidation)
	}

	op := telemetry.StartOperation(d.tel.WithContext(ctx), "driver.submit",
		telemetry.AttrEvaluatorID.String(job.EvaluatorID))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	fragments, err := loadFragments(ctx, job)
	if err != nil {
		return nil, err
	}

	ev, err = d.registry.Allocate(ctx, job.EvaluatorID)
	if err != nil {
		return nil, err
	}

	if job.Process != nil {
		if err := ev.SetProcess(*job.Process); err != nil {
			return ev, err
		}
	}
	for _, f := range job.Files {
		if err := ev.AddFile(f); err != nil {
			return ev, err
		}
	}
	for _, l := range job.Libraries {
		if err := ev.AddLibrary(l); err != nil {
			return ev, err
		}
	}

	return ev, submit(ctx, ev, fragments)
}

type fragments struct {
	context, service, task *config.Configuration
}

func loadFragments(ctx context.Context, job Job) (fragments, error) {
	parser := config.NewCUEParser()
	var out fragments
	for _, f := range []struct {
		path string
		dst  **config.Configuration
	}{
		{job.Context, &out.context},
		{job.Service, &out.service},
		{job.Task, &out.task},
	} {
		if f.path == "" {
			continue
		}
		c, err := parser.Load(ctx, f.path)
		if err != nil {
			return fragments{}, err
		}
		*f.dst = &c
	}
	return out, nil
}

func submit(ctx context.Context, ev *evaluator.AllocatedEvaluator, f fragments) error {
	switch {
	case f.context == nil:
		return ev.SubmitTask(ctx, *f.task)
	case f.service != nil && f.task != nil:
		return ev.SubmitContextAndServiceAndTask(ctx, *f.context, *f.service, *f.task)
	case f.service != nil:
		return ev.SubmitContextAndService(ctx, *f.context, *f.service)
	case f.task != nil:
		return ev.SubmitContextAndTask(ctx, *f.context, *f.task)
	default:
		return ev.SubmitContext(ctx, *f.context)
	}
}
