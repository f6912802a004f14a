package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	defaultDedupTTL = 24 * time.Hour
	replayKeyPrefix = "webhook:"
)

// Request is one inbound webhook delivery.
type Request struct {
	Aggregator string
	Headers    map[string]string
	Body       []byte
}

type Result struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type Verifier interface {
	Verify(ctx context.Context, req Request) error
}

type Handler interface {
	Handle(ctx context.Context, req Request) (Result, error)
}

type DeliveryIDExtractor func(req Request) (string, error)

type Processor struct {
	Verifier  Verifier
	Ledger    core.ReplayLedger
	Handler   Handler
	ExtractID DeliveryIDExtractor
	DedupTTL  time.Duration
}

func NewProcessor(verifier Verifier, ledger core.ReplayLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:  verifier,
		Ledger:    ledger,
		Handler:   handler,
		ExtractID: DefaultDeliveryIDExtractor,
		DedupTTL:  defaultDedupTTL,
	}
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if p == nil || p.Handler == nil || p.Ledger == nil {
		return Result{}, fmt.Errorf("webhooks: processor requires handler and ledger")
	}

	aggregator := strings.TrimSpace(strings.ToLower(req.Aggregator))
	if aggregator == "" {
		return Result{}, badInput("webhooks: aggregator is required")
	}
	req.Aggregator = aggregator

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			return Result{
				StatusCode: http.StatusUnauthorized,
				Metadata:   map[string]any{"aggregator": aggregator, "rejected": true},
			}, unauthorized(err)
		}
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID, err := extractor(req)
	if err != nil {
		return Result{}, err
	}

	key := replayKeyPrefix + aggregator + ":" + deliveryID
	claimed, err := p.Ledger.Claim(ctx, key, p.dedupTTL())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata: map[string]any{
				"aggregator":  aggregator,
				"delivery_id": deliveryID,
				"deduped":     true,
			},
		}, nil
	}

	result, err := p.Handler.Handle(ctx, req)
	if err == nil && (!result.Accepted || result.StatusCode >= http.StatusInternalServerError) {
		err = fmt.Errorf("webhooks: delivery handler returned retryable status %d", result.StatusCode)
	}
	if err != nil {
		if releaser, ok := p.Ledger.(core.ReplayReleaser); ok {
			if releaseErr := releaser.Release(ctx, key); releaseErr != nil {
				return result, fmt.Errorf("%w (release claim: %v)", err, releaseErr)
			}
		}
		return result, err
	}

	result.Metadata = ensureMetadata(result.Metadata)
	result.Metadata["aggregator"] = aggregator
	result.Metadata["delivery_id"] = deliveryID
	return result, nil
}

// DefaultDeliveryIDExtractor prefers an explicit delivery id header and falls
// back to the body digest, since Plaid deliveries carry no id of their own.
func DefaultDeliveryIDExtractor(req Request) (string, error) {
	if value := headerValue(req.Headers, "x-delivery-id"); value != "" {
		return value, nil
	}
	if len(req.Body) == 0 {
		return "", badInput("webhooks: delivery body is required for dedupe")
	}
	sum := sha256.Sum256(req.Body)
	return hex.EncodeToString(sum[:]), nil
}

func (p *Processor) dedupTTL() time.Duration {
	if p != nil && p.DedupTTL > 0 {
		return p.DedupTTL
	}
	return defaultDedupTTL
}

func badInput(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.LinkErrorBadInput)
}

func unauthorized(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryAuth, "webhooks: delivery verification failed").
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.LinkErrorUnauthorized)
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
