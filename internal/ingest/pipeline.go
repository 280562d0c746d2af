package ingest

import (
	"context"
	"errors"
	"fmt"

	"vibecheck/internal/dataset"
)

var ErrStageOrder = errors.New("stage ordering violates dependencies")

const (
	StageInfluencers = "influencers"
	StageContent     = "content"
	StageComments    = "comments"
)

// Stage is one upsert procedure over the whole batch. Needs names the stages
// whose rows it resolves foreign keys against; they must run first.
type Stage struct {
	Name  string
	Needs []string
	// Accept filters the rows the stage looks at; nil accepts every row.
	Accept func(dataset.Row) bool
	Apply  func(e *Engine, ctx context.Context, row dataset.Row) (Outcome, error)
}

// Pipeline is an ordered, validated list of stages.
type Pipeline struct {
	stages []Stage
}

// NewPipeline rejects duplicate names and any stage placed before a stage it
// needs. Running content before influencers would not fail loudly, it would
// just reject every row, so the order is checked up front.
func NewPipeline(stages ...Stage) (*Pipeline, error) {
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s.Name == "" || s.Apply == nil {
			return nil, fmt.Errorf("stage %d: name and apply are required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate stage %q", s.Name)
		}
		for _, need := range s.Needs {
			if !seen[need] {
				return nil, fmt.Errorf("%w: %q needs %q to run before it", ErrStageOrder, s.Name, need)
			}
		}
		seen[s.Name] = true
	}
	return &Pipeline{stages: append([]Stage(nil), stages...)}, nil
}

// Stages returns a copy of the stage list in execution order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

func (p *Pipeline) Names() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name
	}
	return out
}

var (
	InfluencerStage = Stage{
		Name:  StageInfluencers,
		Apply: (*Engine).UpsertInfluencer,
	}
	ContentStage = Stage{
		Name:  StageContent,
		Needs: []string{StageInfluencers},
		Apply: (*Engine).UpsertContent,
	}
	CommentStage = Stage{
		Name:   StageComments,
		Needs:  []string{StageContent},
		Accept: dataset.Row.HasComment,
		Apply:  (*Engine).UpsertComment,
	}
)

// DefaultPipeline runs influencers, then content, then comments.
func DefaultPipeline() *Pipeline {
	p, err := NewPipeline(InfluencerStage, ContentStage, CommentStage)
	if err != nil {
		panic(err)
	}
	return p
}
