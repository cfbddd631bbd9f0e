// Package openai adapts the OpenAI vision chat API to the workout extractor
// port. A cast's screenshot embeds and caption go in, a structured verdict
// comes back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/feed"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/internal/domain/tracking"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common"
	"github.com/jpfraneto/runner-miniapp-backend-sub000/pkg/common/logger"
)

var _ tracking.WorkoutExtractor = (*Extractor)(nil)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultMinConfidence is the floor below which a workout verdict is
	// demoted to not-a-workout rather than trusted.
	DefaultMinConfidence = 0.6

	// maxImagesPerRequest caps how many embeds are attached. Workout
	// screenshots are almost always the first embed.
	maxImagesPerRequest = 2
)

const systemPrompt = `You analyze posts from a running community. Given a post's text and its attached images, decide whether the post shows a completed run or workout (a tracking app screenshot, watch summary, race result, or similar evidence of distance and time).

Respond with a single JSON object and nothing else:
{"is_workout": bool, "distance_km": number, "duration_seconds": integer, "confidence": number, "reasoning": string}

Rules:
- distance_km and duration_seconds describe the completed workout; convert miles and pace formats to kilometers and seconds.
- When the post is not a completed workout (memes, plans, food, shoe photos), set is_workout to false and both metrics to 0.
- confidence is your certainty in [0, 1].
- reasoning is one or two short sentences naming the evidence.`

// verdict is the wire shape the model is instructed to return.
type verdict struct {
	IsWorkout       bool    `json:"is_workout"`
	DistanceKM      float64 `json:"distance_km"`
	DurationSeconds int64   `json:"duration_seconds"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// Extractor implements tracking.WorkoutExtractor against the OpenAI chat
// completions API. Calls are rate limited and bounded by the caller's
// context; the orchestrator applies the per-call timeout.
type Extractor struct {
	client        *openai.Client
	model         string
	minConfidence float64
	limiter       *common.RateLimiter
	logger        *logger.Logger
	tracer        trace.Tracer
}

// NewExtractor creates an Extractor. An empty model falls back to
// DefaultModel; a non-positive minConfidence falls back to
// DefaultMinConfidence. The limiter may be nil when the caller manages
// quota elsewhere.
func NewExtractor(
	client *openai.Client,
	model string,
	minConfidence float64,
	limiter *common.RateLimiter,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Extractor {
	if model == "" {
		model = DefaultModel
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Extractor{
		client:        client,
		model:         model,
		minConfidence: minConfidence,
		limiter:       limiter,
		logger:        logger,
		tracer:        tracer,
	}
}

// ExtractWorkout sends the cast's caption and screenshots to the model and
// maps its JSON verdict onto an ExtractionResult.
func (e *Extractor) ExtractWorkout(ctx context.Context, cast feed.Cast) (tracking.ExtractionResult, error) {
	ctx, span := e.tracer.Start(ctx, "openai_extractor.extract_workout", trace.WithAttributes(
		attribute.String("cast_hash", cast.Hash.String()),
		attribute.String("model", e.model),
		attribute.Int("image_count", len(cast.ImageURLs())),
	))
	defer span.End()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limit wait failed")
			return tracking.ExtractionResult{}, fmt.Errorf("waiting for extraction rate limit: %w", err)
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, e.buildRequest(cast))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return tracking.ExtractionResult{}, fmt.Errorf("chat completion error: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "empty response")
		return tracking.ExtractionResult{}, fmt.Errorf("model returned no choices")
	}

	v, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparsable verdict")
		return tracking.ExtractionResult{}, err
	}
	span.SetAttributes(
		attribute.Bool("is_workout", v.IsWorkout),
		attribute.Float64("confidence", v.Confidence),
	)

	if !v.IsWorkout {
		return tracking.ExtractionResult{
			IsWorkout:  false,
			Confidence: v.Confidence,
			Rationale:  v.Reasoning,
		}, nil
	}

	if v.Confidence < e.minConfidence {
		e.logger.Info(ctx, "Workout verdict below confidence floor, demoting",
			"cast_hash", cast.Hash.String(), "confidence", v.Confidence, "floor", e.minConfidence)
		span.AddEvent("verdict_below_confidence_floor")
		return tracking.ExtractionResult{
			IsWorkout:  false,
			Confidence: v.Confidence,
			Rationale:  fmt.Sprintf("workout verdict below confidence floor (%.2f): %s", v.Confidence, v.Reasoning),
		}, nil
	}

	workout, err := tracking.NewWorkout(v.DistanceKM, time.Duration(v.DurationSeconds)*time.Second)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unusable workout metrics")
		return tracking.ExtractionResult{}, fmt.Errorf("model reported a workout without usable metrics: %w", err)
	}

	return tracking.ExtractionResult{
		IsWorkout:  true,
		Workout:    workout,
		Confidence: v.Confidence,
		Rationale:  v.Reasoning,
	}, nil
}

func (e *Extractor) buildRequest(cast feed.Cast) openai.ChatCompletionRequest {
	parts := []openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: fmt.Sprintf("Post text: %q", cast.Text),
	}}
	for i, url := range cast.ImageURLs() {
		if i == maxImagesPerRequest {
			break
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    url,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	return openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

// parseVerdict tolerates the common ways models wrap JSON: markdown fences
// and prose around the object.
func parseVerdict(content string) (verdict, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end <= start {
		return verdict{}, fmt.Errorf("no JSON object in model response %q", truncate(content, 120))
	}

	var v verdict
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &v); err != nil {
		return verdict{}, fmt.Errorf("decoding model verdict: %w", err)
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
