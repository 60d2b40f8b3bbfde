package admission

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const outcomeAdmitted = "admitted"

// Stage is one step of the admission chain. A stage either admits the request,
// possibly adding to its context, or returns a *Rejection.
type Stage interface {
	Name() string
	Admit(ctx context.Context, req *Request) error
}

// Pipeline runs the admission stages in their fixed order and stops at the
// first rejection.
type Pipeline struct {
	stages   []Stage
	observer Observer
	log      *zap.Logger
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// New builds the chain identity, plan, burst, sustained, quota. The order is
// fixed: each stage relies on what the previous ones resolved.
func New(identity, plan, burst, sustained, quota Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:   []Stage{identity, plan, burst, sustained, quota},
		observer: nopObserver{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit runs the chain for one credential. On success the returned request
// carries the resolved tenant, plan and usage; otherwise err is a *Rejection.
func (p *Pipeline) Admit(ctx context.Context, credential string) (*Request, error) {
	req := NewRequest(credential)

	for _, stage := range p.stages {
		start := time.Now()
		err := stage.Admit(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			rej := AsRejection(err)
			p.observer.StageCompleted(stage.Name(), string(rej.Code), elapsed)
			if rej.Fault() {
				p.log.Error("admission fault",
					zap.String("stage", stage.Name()),
					zap.String("code", string(rej.Code)),
					zap.Error(rej),
				)
			}
			return req, rej
		}

		p.observer.StageCompleted(stage.Name(), outcomeAdmitted, elapsed)
	}

	if req.Usage.OverQuota {
		plan, _ := req.Plan()
		p.observer.SoftOverage(plan.Name)
	}

	return req, nil
}
