// Package extraction turns uploaded catalog documents into registered items:
// text extraction, LLM structuring, then idempotent registration through the
// identity registry.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/minhqd/shopchat/internal/llm"
	"github.com/minhqd/shopchat/internal/models"
	"github.com/shopspring/decimal"
)

const extractionSystemPrompt = `You extract products and services from business documents (menus, price lists, service brochures), which are often in Vietnamese.

Return ONLY a JSON array. Each element:
{
  "kind": "product" or "service",
  "name": "item name exactly as written",
  "category": "section or category, empty if absent",
  "tags": ["keywords"],
  "description": "short description, empty if absent",
  "price": "numeric price as a string, empty if absent",
  "currency": "ISO code, VND if prices look Vietnamese, empty if absent",
  "quantity": stock count as a number, -1 if stock is mentioned as not tracked, omit if not mentioned
}

Do not invent items. Do not wrap the array in any other structure.`

// ExtractedItem is one item as reported by the model, before registration.
type ExtractedItem struct {
	Kind        models.ItemKind `json:"kind"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Tags        []string        `json:"tags"`
	Description string          `json:"description"`
	Price       string          `json:"price"`
	Currency    string          `json:"currency"`
	Quantity    *int            `json:"quantity,omitempty"`
}

// PriceDecimal parses the model-reported price, tolerating thousand
// separators ("45.000", "45,000").
func (it ExtractedItem) PriceDecimal() (*decimal.Decimal, error) {
	s := strings.TrimSpace(it.Price)
	if s == "" {
		return nil, nil
	}
	// Separator heuristic for VND-style prices: dots or commas followed by
	// exactly three digits are grouping, not decimals.
	for _, sep := range []string{".", ","} {
		parts := strings.Split(s, sep)
		if len(parts) > 1 {
			grouping := true
			for _, p := range parts[1:] {
				if len(p) != 3 {
					grouping = false
					break
				}
			}
			if grouping {
				s = strings.Join(parts, "")
			}
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", it.Price, err)
	}
	return &d, nil
}

// Parser runs the LLM structuring step.
type Parser struct {
	gateway  llm.Gateway
	provider string
	model    string
}

func NewParser(gw llm.Gateway, provider, model string) *Parser {
	return &Parser{gateway: gw, provider: provider, model: model}
}

func (p *Parser) ExtractItems(ctx context.Context, text string) ([]ExtractedItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	resp, err := p.gateway.Chat(ctx, llm.ChatRequest{
		Provider: p.provider,
		Model:    p.model,
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	raw := stripCodeFence(resp.Content)
	var items []ExtractedItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("parse extraction output: %w", err)
	}

	// Drop entries the model should not have produced instead of failing the
	// whole document.
	valid := items[:0]
	for _, it := range items {
		if it.Kind.Valid() && strings.TrimSpace(it.Name) != "" {
			valid = append(valid, it)
		}
	}
	return valid, nil
}

// stripCodeFence removes a ```json ... ``` wrapper models add despite
// instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
