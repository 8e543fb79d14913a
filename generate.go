package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/credits/entitlement"
	"github.com/xraph/credits/generation"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/ledger"
)

// DefaultGenerationCost is the credit price of one generation.
const DefaultGenerationCost int64 = 1

// GenerationClient runs generation jobs. *generation.Client implements it.
type GenerationClient interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// Generator charges the session account for successful generations.
type Generator struct {
	r      *Reconciler
	client GenerationClient
	cost   int64
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithGenerationCost sets the credits charged per generation.
func WithGenerationCost(cost int64) GeneratorOption {
	return func(g *Generator) {
		if cost > 0 {
			g.cost = cost
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(r *Reconciler, client GenerationClient, opts ...GeneratorOption) *Generator {
	g := &Generator{r: r, client: client, cost: DefaultGenerationCost}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Cost returns the credits charged per generation.
func (g *Generator) Cost() int64 { return g.cost }

// Generate checks the session account can pay, runs the job and debits the
// cost only once it succeeds. If the debit fails after the job succeeded the
// result is returned together with the error.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	ent, err := g.r.Entitled(ctx, g.cost)
	if err != nil {
		return nil, err
	}
	if !ent.Allowed {
		if ent.Reason == entitlement.ReasonNoSession {
			return nil, ErrNoSession
		}
		return nil, ErrInsufficientCredits
	}
	accountID, err := id.ParseAccountID(ent.AccountID)
	if err != nil {
		return nil, err
	}

	jobID := id.NewGenerationID()
	start := time.Now()
	res, err := g.client.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, generation.ErrRejected) {
			return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}
		return nil, classify("generate", err)
	}
	elapsed := time.Since(start)

	desc := "Generated image with template " + req.TemplateID
	if _, _, err := g.r.adjust(ctx, accountID, -g.cost, ledger.KindConsumption, desc, jobID.String()); err != nil {
		g.r.logger.Error("failed to charge for generation",
			"account_id", accountID.String(),
			"generation_id", jobID.String(),
			"error", err,
		)
		return res, err
	}

	g.r.plugins.EmitGenerationCompleted(ctx, accountID.String(), g.cost, elapsed)
	g.r.logger.Info("generation completed",
		"account_id", accountID.String(),
		"generation_id", jobID.String(),
		"template_id", req.TemplateID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return res, nil
}
