package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/generation"
)

var (
	ErrEmptyResponse   = errors.New("empty model response")
	ErrInvalidResponse = errors.New("invalid model response")
)

// generateFunc sends the prompt to the model and returns the text of its response.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error)

// Generator implements generation.ContentGenerator with the Gemini API.
type Generator struct {
	generate      generateFunc
	model         string
	temperature   float32
	timeout       time.Duration
	maxRetries    uint64
	retryInterval time.Duration
	limiter       *rate.Limiter
	logger        core.Logger
}

var _ generation.ContentGenerator = (*Generator)(nil) // interface compliance check

func NewGenerator(ctx context.Context, conf core.AIConfig, logger core.Logger) (*Generator, error) {
	if conf.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  conf.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating gemini client")
	}

	generate := func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return newGenerator(generate, conf, logger), nil
}

func newGenerator(generate generateFunc, conf core.AIConfig, logger core.Logger) *Generator {
	rpm := conf.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	return &Generator{
		generate:      generate,
		model:         conf.Model,
		temperature:   conf.Temperature,
		timeout:       conf.Timeout,
		maxRetries:    conf.MaxRetries,
		retryInterval: time.Second,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		logger:        logger,
	}
}

// isTransient reports whether the call may succeed if retried:
// timeouts, rate limiting & server side API errors.
func isTransient(err error) bool {
	if errors.Cause(err) == context.DeadlineExceeded {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return false
}

// call asks the model for a JSON document matching `schema` and decodes it into `dst`.
// Transient API errors and malformed responses are retried with exponential back-off.
func (g *Generator) call(ctx context.Context, operation, system, prompt string, schema *genai.Schema, dst interface{}) error {
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.temperature),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    schema,
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var attempt int
	op := func() error {
		attempt++
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		text, err := g.generate(callCtx, g.model, contents, config)
		if err != nil {
			if ctx.Err() != nil || !isTransient(err) {
				return backoff.Permanent(errors.Wrap(err, operation))
			}
			g.logger.Warn("gemini call failed, retrying", err, map[string]interface{}{"operation": operation, "attempt": attempt})
			return errors.Wrap(err, operation)
		}
		if err := decode(text, dst); err != nil {
			g.logger.Warn("invalid gemini response, retrying", err, map[string]interface{}{"operation": operation, "attempt": attempt})
			return errors.Wrap(err, operation)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.retryInterval
	bo.MaxElapsedTime = 0 // bounded by the retries & the context
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, g.maxRetries), ctx))
}

// decode strictly decodes the JSON document of `text` into `dst`. Markdown code fences are tolerated.
func decode(text string, dst interface{}) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyResponse
	}

	dec := json.NewDecoder(bytes.NewBufferString(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Wrapf(ErrInvalidResponse, "%v", err)
	}
	if dec.More() {
		return errors.Wrap(ErrInvalidResponse, "trailing data")
	}
	return nil
}

func (g *Generator) AnalyzeDocument(ctx context.Context, req generation.AnalysisRequest) (generation.DocumentAnalysis, error) {
	var res generation.DocumentAnalysis
	err := g.call(ctx, "analyze document", systemPrompt, analysisPrompt(req), analysisSchema, &res)
	return res, err
}

func (g *Generator) OutlineCourse(ctx context.Context, req generation.OutlineRequest) (generation.Outline, error) {
	var res generation.Outline
	err := g.call(ctx, "outline course", systemPrompt, outlinePrompt(req), outlineSchema, &res)
	return res, err
}

func (g *Generator) WriteLesson(ctx context.Context, req generation.LessonRequest) (generation.LessonDraft, error) {
	var res generation.LessonDraft
	err := g.call(ctx, "write lesson", systemPrompt, lessonPrompt(req), lessonSchema, &res)
	return res, err
}

func (g *Generator) WriteQuiz(ctx context.Context, req generation.QuizRequest) (generation.QuizDraft, error) {
	var res generation.QuizDraft
	err := g.call(ctx, "write quiz", systemPrompt, quizPrompt(req), quizSchema, &res)
	return res, err
}
