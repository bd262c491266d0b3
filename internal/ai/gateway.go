package ai

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Formatting carries display hints derived from the generated text. Clients
// use them to decide how to render the message; nothing here is validated
// semantically.
type Formatting struct {
	HasCodeBlocks bool `json:"has_code_blocks"`
	HasLinks      bool `json:"has_links"`
	HasLists      bool `json:"has_lists"`
}

type Reply struct {
	Text       string     `json:"text"`
	Usage      Usage      `json:"usage"`
	Formatting Formatting `json:"formatting"`
}

const (
	probePrompt = "Reply with the single word PONG."
	probeWant   = "PONG"
)

// Gateway wraps a provider with the fixed generation parameters of the reply
// pipeline and normalizes its output.
type Gateway struct {
	provider     Provider
	systemPrompt string
	temperature  float64
	maxTokens    int
}

func NewGateway(provider Provider, systemPrompt string, temperature float64, maxTokens int) *Gateway {
	return &Gateway{
		provider:     provider,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		maxTokens:    maxTokens,
	}
}

// Generate sends one request built from the optional system prompt, the
// conversation window and the new user turn. Failures come back as
// *GenerationError; use KindOf to branch.
func (g *Gateway) Generate(ctx context.Context, userText string, window []Turn) (*Reply, error) {
	turns := make([]Turn, 0, len(window)+2)
	if g.systemPrompt != "" {
		turns = append(turns, Turn{Role: RoleSystem, Content: g.systemPrompt})
	}
	turns = append(turns, window...)
	turns = append(turns, Turn{Role: RoleUser, Content: userText})

	res, err := g.provider.Chat(ctx, Request{
		Turns:       turns,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &Reply{
		Text:       res.Text,
		Usage:      res.Usage,
		Formatting: DetectFormatting(res.Text),
	}, nil
}

// Probe sends a fixed prompt and checks for a fixed substring. Liveness only;
// a passing probe says nothing about answer quality.
func (g *Gateway) Probe(ctx context.Context) error {
	res, err := g.provider.Chat(ctx, Request{
		Turns:     []Turn{{Role: RoleUser, Content: probePrompt}},
		MaxTokens: 16,
	})
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(res.Text), probeWant) {
		return errors.New("probe response did not match")
	}
	return nil
}

var (
	linkRE = regexp.MustCompile(`https?://\S+`)
	listRE = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)
)

func DetectFormatting(text string) Formatting {
	return Formatting{
		HasCodeBlocks: strings.Contains(text, "```"),
		HasLinks:      linkRE.MatchString(text),
		HasLists:      listRE.MatchString(text),
	}
}
