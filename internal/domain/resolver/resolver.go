// Package resolver reconciles cart ids against the catalog.
package resolver

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/birdfarm-cart/internal/domain/cart"
	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
)

// ResolutionFailed reports that a batch lookup failed. The whole resolution
// is void: a cart priced from only one of the batches is never returned.
type ResolutionFailed struct {
	Kind catalog.Kind
	Err  error
}

func (e *ResolutionFailed) Error() string {
	return fmt.Sprintf("resolve %ss: %v", e.Kind, e.Err)
}

func (e *ResolutionFailed) Unwrap() error {
	return e.Err
}

// Result holds the freshly fetched records for one cart snapshot.
type Result struct {
	// Snapshot is the cart state that was resolved.
	Snapshot cart.Snapshot
	Birds    []catalog.Product
	Nests    []catalog.Product
	// Dangling lists cart entries the catalog has no record for, in cart order.
	Dangling []catalog.Reference
}

// Products returns birds followed by nests.
func (r *Result) Products() []catalog.Product {
	out := make([]catalog.Product, 0, len(r.Birds)+len(r.Nests))
	out = append(out, r.Birds...)
	return append(out, r.Nests...)
}

// Resolver fetches current product records for cart snapshots.
type Resolver struct {
	products catalog.Products
	tracer   trace.Tracer
}

// New creates a Resolver backed by products. A nil tp disables tracing.
func New(products catalog.Products, tp trace.TracerProvider) *Resolver {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Resolver{
		products: products,
		tracer:   tp.Tracer("github.com/xenking/birdfarm-cart/internal/domain/resolver"),
	}
}

// Resolve looks up all ids of snap with one batch per kind, run
// concurrently. Ids without a record are reported as dangling and left out
// of the product lists. If either batch fails the error is a
// *ResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, snap cart.Snapshot) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "Resolve", trace.WithAttributes(
		attribute.Int("cart.birds", len(snap.Birds)),
		attribute.Int("cart.nests", len(snap.Nests)),
	))
	defer span.End()

	var birds, nests []catalog.Product
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		birds, err = r.batch(gctx, catalog.KindBird, snap.Birds, r.products.BirdsByIDs)
		return err
	})
	g.Go(func() error {
		var err error
		nests, err = r.batch(gctx, catalog.KindNest, snap.Nests, r.products.NestsByIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolution failed")
		return nil, err
	}

	res := &Result{Snapshot: snap}
	res.Birds, res.Dangling = match(catalog.KindBird, snap.Birds, birds, res.Dangling)
	res.Nests, res.Dangling = match(catalog.KindNest, snap.Nests, nests, res.Dangling)
	span.SetAttributes(attribute.Int("cart.dangling", len(res.Dangling)))
	return res, nil
}

type batchFunc func(ctx context.Context, ids []string) ([]catalog.Product, error)

func (r *Resolver) batch(ctx context.Context, kind catalog.Kind, ids []string, fetch batchFunc) ([]catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, span := r.tracer.Start(ctx, "Resolve."+string(kind), trace.WithAttributes(
		attribute.Int("batch.size", len(ids)),
	))
	defer span.End()

	products, err := fetch(ctx, ids)
	if err != nil {
		span.RecordError(err)
		return nil, &ResolutionFailed{Kind: kind, Err: errors.Wrap(err, "batch lookup")}
	}
	return products, nil
}

// match orders fetched records by cart position and collects ids with no
// record. Records for ids that were not asked for are ignored.
func match(kind catalog.Kind, ids []string, fetched []catalog.Product, dangling []catalog.Reference) ([]catalog.Product, []catalog.Reference) {
	byID := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		if _, dup := byID[p.ID]; !dup {
			byID[p.ID] = p
		}
	}

	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			dangling = append(dangling, catalog.Reference{Kind: kind, ID: id})
			continue
		}
		p.Kind = kind
		out = append(out, p)
	}
	return out, dangling
}
