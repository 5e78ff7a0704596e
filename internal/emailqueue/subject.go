package emailqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/jobmatch-batch/internal/config"
	"github.com/ignite/jobmatch-batch/internal/domain"
)

// SubjectGenerator produces the digest subject line. When the Bedrock
// client is enabled it asks the model for a personalized subject under
// a hard per-call budget; any failure or timeout falls back to the
// deterministic template. Queueing never waits on the model beyond the
// budget.
type SubjectGenerator struct {
	client  *bedrockruntime.Client
	modelID string
	cfg     config.BedrockConfig
	enabled bool
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []claudeMessage `json:"messages"`
	Temperature      float64         `json:"temperature,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// NewSubjectGenerator builds the generator. A disabled config returns
// a generator that always uses the fallback; a failed AWS config load
// degrades the same way rather than failing startup.
func NewSubjectGenerator(ctx context.Context, cfg config.BedrockConfig) *SubjectGenerator {
	g := &SubjectGenerator{cfg: cfg, modelID: cfg.ModelID}
	if !cfg.Enabled {
		return g
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		log.Printf("[SubjectGenerator] AWS config load failed, using fallback subjects: %v", err)
		return g
	}
	g.client = bedrockruntime.NewFromConfig(awsCfg)
	g.enabled = true
	log.Printf("[SubjectGenerator] enabled model=%s region=%s", cfg.ModelID, cfg.Region)
	return g
}

// Subject returns the subject line for one user's slate.
func (g *SubjectGenerator) Subject(ctx context.Context, user *domain.User, slate *domain.SectionSlate) string {
	if !g.enabled {
		return fallbackSubject(slate)
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout())
	defer cancel()

	subject, err := g.generate(ctx, slate)
	if err != nil {
		log.Printf("[SubjectGenerator] user=%d fallback: %v", user.UserID, err)
		return fallbackSubject(slate)
	}
	return subject
}

func (g *SubjectGenerator) generate(ctx context.Context, slate *domain.SectionSlate) (string, error) {
	titles := topTitles(slate, 3)
	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        60,
		Temperature:      0.7,
		Messages: []claudeMessage{{
			Role: "user",
			Content: fmt.Sprintf(
				"Write one short email subject line (under 60 characters, no quotes) for a daily job digest featuring: %s",
				strings.Join(titles, "; ")),
		}},
	})
	if err != nil {
		return "", err
	}

	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke model: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("parse model response: %w", err)
	}
	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	text = strings.TrimSpace(strings.Trim(text, `"`))
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}

// fallbackSubject is the deterministic subject used whenever the model
// is disabled, slow, or wrong.
func fallbackSubject(slate *domain.SectionSlate) string {
	real := slate.Size() - slate.FallbackCount()
	if real <= 0 {
		real = slate.Size()
	}
	return fmt.Sprintf("%d new jobs picked for you today", real)
}

// topTitles collects up to n titles in section priority order.
func topTitles(slate *domain.SectionSlate, n int) []string {
	titles := make([]string, 0, n)
	for _, kind := range domain.SectionOrder {
		for _, it := range slate.Sections[kind] {
			if it.IsFallback || it.Job.Title == "" {
				continue
			}
			titles = append(titles, it.Job.Title)
			if len(titles) == n {
				return titles
			}
		}
	}
	return titles
}
