package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhqd/shopchat/internal/llm"
	"github.com/minhqd/shopchat/internal/models"
)

type fakeGateway struct {
	content string
	err     error
}

func (g *fakeGateway) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &llm.ChatResponse{Content: g.content}, nil
}

func (g *fakeGateway) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	out := make([][]float32, len(req.Input))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return &llm.EmbeddingResponse{Embeddings: out}, nil
}

func (g *fakeGateway) Provider(name string) (llm.Provider, error) { return nil, nil }

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, stripCodeFence("```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[{"a":1}]`, stripCodeFence("```\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[{"a":1}]`, stripCodeFence(`[{"a":1}]`))
	assert.Equal(t, `[]`, stripCodeFence("  ```json\n[]\n```  "))
}

func TestPriceDecimal(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantNil bool
		wantErr bool
	}{
		{in: "45000", want: "45000"},
		{in: "45.000", want: "45000"},   // VND grouping dot
		{in: "1.250.000", want: "1250000"},
		{in: "45,000", want: "45000"},   // grouping comma
		{in: "9.99", want: "9.99"},      // real decimal, two digits
		{in: "", wantNil: true},
		{in: "   ", wantNil: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ExtractedItem{Price: tt.in}.PriceDecimal()
		if tt.wantErr {
			assert.Error(t, err, "price %q", tt.in)
			continue
		}
		require.NoError(t, err, "price %q", tt.in)
		if tt.wantNil {
			assert.Nil(t, got, "price %q", tt.in)
			continue
		}
		require.NotNil(t, got, "price %q", tt.in)
		assert.Equal(t, tt.want, got.String(), "price %q", tt.in)
	}
}

func TestExtractItemsParsesModelOutput(t *testing.T) {
	gw := &fakeGateway{content: "```json\n" + `[
		{"kind":"product","name":"Phở Bò","category":"Món chính","price":"45.000","currency":"VND","quantity":-1},
		{"kind":"service","name":"Giao hàng","description":"Trong bán kính 5km"},
		{"kind":"bundle","name":"invalid kind dropped"},
		{"kind":"product","name":"  "}
	]` + "\n```"}

	p := NewParser(gw, "", "gpt-4o-mini")
	items, err := p.ExtractItems(context.Background(), "menu text")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, models.KindProduct, items[0].Kind)
	assert.Equal(t, "Phở Bò", items[0].Name)
	require.NotNil(t, items[0].Quantity)
	assert.Equal(t, models.QuantityNotTracked, *items[0].Quantity)

	assert.Equal(t, models.KindService, items[1].Kind)
	assert.Nil(t, items[1].Quantity)
}

func TestExtractItemsEmptyTextShortCircuits(t *testing.T) {
	p := NewParser(&fakeGateway{err: assert.AnError}, "", "gpt-4o-mini")
	items, err := p.ExtractItems(context.Background(), "   \n ")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExtractItemsBadJSONFails(t *testing.T) {
	p := NewParser(&fakeGateway{content: "Sorry, I cannot help with that."}, "", "gpt-4o-mini")
	_, err := p.ExtractItems(context.Background(), "menu text")
	require.Error(t, err)
}
