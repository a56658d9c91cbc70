// Package brief produces short review digests of cached pull requests
// through the Anthropic API. The prompt is assembled from the cached
// record, the cached issues it closes, and the live review threads, so
// a digest reflects the reviewer's current picture without another
// full sync.
package brief

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/perch-review/perch/internal/cache"
	"github.com/perch-review/perch/internal/forge"
)

// DefaultModel is the model used when the config names none.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens bounds the digest length.
const DefaultMaxTokens = 1024

const systemPrompt = "You are a code review assistant. Summarize the pull request " +
	"for a reviewer deciding what to look at next. Be specific, stay under 200 words, " +
	"and call out unresolved review threads and linked issues."

// Completer turns a prompt into a completion. The production
// implementation calls the Anthropic Messages API; tests substitute a
// canned one.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type anthropicCompleter struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicCompleter builds a Completer over the Anthropic API.
// Empty model and zero maxTokens fall back to the package defaults.
func NewAnthropicCompleter(apiKey, model string, maxTokens int64) (Completer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &anthropicCompleter{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}, nil
}

func (a *anthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create message: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// Generator assembles digest prompts from the cache and the forge.
type Generator struct {
	pulls     *cache.Store[cache.PullRequest]
	issues    *cache.Store[cache.Issue]
	forge     forge.Forge
	completer Completer
	logger    *log.Logger
}

// NewGenerator wires a digest generator. A nil logger gets the package
// default.
func NewGenerator(pulls *cache.Store[cache.PullRequest], issues *cache.Store[cache.Issue], f forge.Forge, c Completer, logger *log.Logger) (*Generator, error) {
	if pulls == nil {
		return nil, fmt.Errorf("pulls store cannot be nil")
	}
	if issues == nil {
		return nil, fmt.Errorf("issues store cannot be nil")
	}
	if f == nil {
		return nil, fmt.Errorf("forge cannot be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("completer cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[brief] ", log.LstdFlags)
	}
	return &Generator{pulls: pulls, issues: issues, forge: f, completer: c, logger: logger}, nil
}

// PullBrief returns a digest of the given cached pull request. Review
// threads come from the forge at call time; a thread fetch failure
// degrades to a digest without them rather than failing the whole
// request.
func (g *Generator) PullBrief(ctx context.Context, key cache.CompositeKey) (string, error) {
	pr, ok := g.pulls.Get(key)
	if !ok {
		return "", fmt.Errorf("pull request %s is not cached; sync the repository first", key)
	}

	threads, err := g.forge.ListReviewThreads(ctx, key.Scope, key.Number)
	if err != nil {
		g.logger.Printf("Warning: failed to fetch review threads for %s: %v", key, err)
		threads = nil
	}

	prompt := buildPullPrompt(pr, g.closingIssues(pr), threads)
	out, err := g.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate brief for %s: %w", key, err)
	}
	if out == "" {
		return "", fmt.Errorf("empty brief for %s", key)
	}
	g.logger.Printf("Generated brief for %s (%d chars)", key, len(out))
	return out, nil
}

// closingIssues resolves the cached issues named by the pull request's
// closing edges. Issues missing from the cache are skipped.
func (g *Generator) closingIssues(pr cache.PullRequest) []cache.Issue {
	var out []cache.Issue
	for _, n := range pr.ClosingIssues {
		if issue, ok := g.issues.Get(cache.CompositeKey{Scope: pr.Scope, Number: n}); ok {
			out = append(out, issue)
		}
	}
	return out
}

func buildPullPrompt(pr cache.PullRequest, issues []cache.Issue, threads []forge.ReviewThread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pull request %s#%d: %s\n", pr.Scope, pr.Number, pr.Title)
	fmt.Fprintf(&b, "Author: %s\n", pr.Author)
	fmt.Fprintf(&b, "State: %s\n", describeState(pr))
	if pr.HeadRef != "" || pr.BaseRef != "" {
		fmt.Fprintf(&b, "Branch: %s -> %s\n", pr.HeadRef, pr.BaseRef)
	}
	if len(pr.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(pr.Labels, ", "))
	}
	if pr.ReviewDecision != "" {
		fmt.Fprintf(&b, "Review decision: %s\n", pr.ReviewDecision)
	}

	b.WriteString("\nDescription:\n")
	if strings.TrimSpace(pr.Body) == "" {
		b.WriteString("(no description)\n")
	} else {
		b.WriteString(strings.TrimSpace(pr.Body) + "\n")
	}

	if len(issues) > 0 {
		b.WriteString("\nCloses:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- #%d %s (%s)\n", issue.Number, issue.Title, issue.State)
		}
	}

	if len(threads) > 0 {
		b.WriteString("\nReview threads:\n")
		for _, th := range threads {
			marker := "unresolved"
			if th.IsResolved {
				marker = "resolved"
			}
			fmt.Fprintf(&b, "- %s line %d (%s)\n", th.Path, th.Line, marker)
			for _, c := range th.Comments {
				fmt.Fprintf(&b, "  %s: %s\n", c.Author, c.Body)
			}
		}
	}
	return b.String()
}

func describeState(pr cache.PullRequest) string {
	switch {
	case pr.Merged:
		return "merged"
	case pr.Draft:
		return "draft"
	default:
		return pr.State
	}
}
