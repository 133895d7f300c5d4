package consolidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/becomeliminal/atlas/capability"
	"github.com/becomeliminal/atlas/memory"
	"github.com/becomeliminal/atlas/provider"
	"github.com/becomeliminal/atlas/schema"
)

// Verdict is the classified relationship between two chunks.
type Verdict struct {
	Type       memory.ConsolidationType
	Direction  memory.Direction
	Reasoning  string
	MergedText string

	// Backend names the backend that produced the verdict.
	Backend string
}

// Classifier decides how two chunks relate. first is the older chunk.
type Classifier interface {
	Classify(ctx context.Context, first, second *memory.ChunkPayload) (Verdict, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, first, second *memory.ChunkPayload) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, first, second *memory.ChunkPayload) (Verdict, error) {
	return f(ctx, first, second)
}

const classifySystem = `You compare two memory chunks from a personal knowledge base and decide how they relate.
duplicate_work: both say the same thing.
sequential_iteration: the second refines, corrects or continues the first.
contextual_convergence: they approach one topic from different contexts.
Direction is forward when the second builds on the first, backward when the first builds on the second,
convergent when both feed a shared idea, unknown otherwise.
merged_text must preserve every fact from both chunks.`

var verdictSchema = schema.WithReasoning(schema.Object(map[string]schema.Schema{
	"type": schema.Enum("Relationship between the chunks.",
		string(memory.DuplicateWork), string(memory.SequentialIteration), string(memory.ContextualConvergence)),
	"direction": schema.Enum("Direction of the relationship.",
		string(memory.Forward), string(memory.Backward), string(memory.Convergent), string(memory.Unknown)),
	"merged_text": schema.String("A single chunk combining both."),
}, "type", "direction"))

// LLMClassifier classifies through the first available json-completion
// backend. Verdicts are memoized per pair and content, so a dry run and the
// pass that follows it see the same answers.
type LLMClassifier struct {
	backends  provider.Lookup
	memo      *lru.Cache[string, Verdict]
	maxTokens int
}

// NewLLMClassifier creates a classifier remembering up to memoSize verdicts.
func NewLLMClassifier(backends provider.Lookup, memoSize int) (*LLMClassifier, error) {
	if memoSize < 1 {
		memoSize = 1024
	}
	memo, err := lru.New[string, Verdict](memoSize)
	if err != nil {
		return nil, err
	}
	return &LLMClassifier{backends: backends, memo: memo, maxTokens: 2048}, nil
}

// Classify returns provider.ErrNoBackend (wrapped) when no backend is
// available.
func (c *LLMClassifier) Classify(ctx context.Context, first, second *memory.ChunkPayload) (Verdict, error) {
	key := memoKey(first, second)
	if v, ok := c.memo.Get(key); ok {
		return v, nil
	}

	comp, name, err := provider.CompleterFor(ctx, c.backends, capability.JSONCompletion)
	if err != nil {
		return Verdict{}, err
	}

	reply, err := comp.Complete(ctx, provider.Request{
		System:    classifySystem,
		Prompt:    classifyPrompt(first, second),
		MaxTokens: c.maxTokens,
		JSON:      true,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%s: %w", name, err)
	}

	v, err := parseVerdict(reply)
	if err != nil {
		return Verdict{}, fmt.Errorf("%s: %w", name, err)
	}
	v.Backend = name
	c.memo.Add(key, v)
	return v, nil
}

func classifyPrompt(first, second *memory.ChunkPayload) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "First chunk (%s, observed %s):\n%s\n\n", first.FilePath, first.CreatedAt.Format("2006-01-02"), first.OriginalText)
	fmt.Fprintf(&sb, "Second chunk (%s, observed %s):\n%s\n\n", second.FilePath, second.CreatedAt.Format("2006-01-02"), second.OriginalText)
	sb.WriteString(schema.Instructions(verdictSchema))
	return sb.String()
}

func parseVerdict(reply string) (Verdict, error) {
	var raw struct {
		Type       string `json:"type"`
		Direction  string `json:"direction"`
		Reasoning  string `json:"reasoning"`
		MergedText string `json:"merged_text"`
	}
	if err := schema.Decode(verdictSchema, reply, &raw); err != nil {
		return Verdict{}, err
	}
	t, err := memory.ParseConsolidationType(raw.Type)
	if err != nil {
		return Verdict{}, err
	}
	d, err := memory.ParseDirection(raw.Direction)
	if err != nil {
		d = memory.Unknown
	}
	return Verdict{
		Type:       t,
		Direction:  d,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		MergedText: strings.TrimSpace(raw.MergedText),
	}, nil
}

func memoKey(first, second *memory.ChunkPayload) string {
	h := sha256.New()
	for _, s := range []string{first.ID, first.OriginalText, second.ID, second.OriginalText} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
