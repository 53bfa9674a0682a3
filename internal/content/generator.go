// Package content builds the body of summary notifications from aggregated
// performance rows and a generated narrative.
package content

import (
	"context"

	"github.com/rs/zerolog/log"

	"digestflow/internal/domain"
	"digestflow/internal/textgen"
)

const unavailableSummary = "The automated narrative is unavailable for this period. The statistics below are current."

type Input struct {
	OwnerName string
	Model     string
	Snapshot  domain.MetricsSnapshot
	Rows      []domain.PerformanceRow
	// SourceErr is set when the metrics could not be fetched; the narrative
	// call is skipped.
	SourceErr error
}

type Output struct {
	Text string
	HTML string
	// Structured is false when the narrative reply could not be decoded and
	// the raw reply was used verbatim.
	Structured bool
}

type Generator struct {
	gen textgen.Generator
}

// NewGenerator accepts a nil gen; the output then carries statistics only.
func NewGenerator(gen textgen.Generator) *Generator {
	return &Generator{gen: gen}
}

// Generate never fails. Upstream errors degrade to a statistics-only body and
// undecodable replies are passed through as-is.
func (g *Generator) Generate(ctx context.Context, in Input) Output {
	if g.gen == nil || in.SourceErr != nil {
		return render(Report{ExecutiveSummary: unavailableSummary}, in.Rows)
	}

	system, user := BuildPrompt(in)
	raw, err := g.gen.Generate(ctx, textgen.Request{Model: in.Model, SystemPrompt: system, UserPrompt: user})
	if err != nil {
		log.Warn().Err(err).Msg("narrative generation failed, sending statistics only")
		return render(Report{ExecutiveSummary: unavailableSummary}, in.Rows)
	}

	report, ok := ParseReply(raw)
	if !ok {
		log.Warn().Int("reply_bytes", len(raw)).Msg("narrative reply is not the expected JSON, passing it through")
		return Output{Text: raw, HTML: FallbackHTML(raw)}
	}
	return render(report, in.Rows)
}

func render(r Report, rows []domain.PerformanceRow) Output {
	return Output{Text: RenderText(r, rows), HTML: RenderHTML(r, rows), Structured: true}
}
