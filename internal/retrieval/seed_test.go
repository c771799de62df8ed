package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ratechat-backend/internal/vectorstore/memory"
)

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

const seedLines = `{"id":"res-1","text":"Residential Rate\nFixed charge: 10","source":"URDB","uri":"https://apps.openei.org/USURDB/rate/view/res-1"}

{"text":"Commercial Rate","source":"URDB"}
`

func TestSeeder_SeedMakesDocumentsSearchable(t *testing.T) {
	ctx := context.Background()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Residential Rate\nFixed charge: 10": {1, 0},
		"Commercial Rate":                    {0, 1},
		"residential":                        {1, 0.1},
	}}
	idx := memory.NewIndex()

	n, err := NewSeeder(embedder, idx, "").Seed(ctx, strings.NewReader(seedLines), "urdb-data")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	docs, err := NewVectorDocumentStore(embedder, idx, "").Search(ctx, "urdb-data", "residential", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "URDB", docs[0].SourceID)
	require.Equal(t, "https://apps.openei.org/USURDB/rate/view/res-1", docs[0].SourceURI)
	require.Equal(t, "Commercial Rate", docs[1].Text)

	// Seeding again replaces the same records.
	_, err = NewSeeder(embedder, idx, "").Seed(ctx, strings.NewReader(seedLines), "urdb-data")
	require.NoError(t, err)
	docs, err = NewVectorDocumentStore(embedder, idx, "").Search(ctx, "urdb-data", "residential", 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestSeeder_BatchesLargeFiles(t *testing.T) {
	var b strings.Builder
	for i := 0; i < seedBatchSize+5; i++ {
		fmt.Fprintf(&b, "{\"text\":\"rate %d\"}\n", i)
	}
	idx := memory.NewIndex()
	n, err := NewSeeder(&fakeEmbedder{}, idx, "").Seed(context.Background(), strings.NewReader(b.String()), "ns")
	require.NoError(t, err)
	require.Equal(t, seedBatchSize+5, n)

	docs, err := NewVectorDocumentStore(&fakeEmbedder{}, idx, "").Search(context.Background(), "ns", "rate", 1000)
	require.NoError(t, err)
	require.Len(t, docs, seedBatchSize+5)
}

func TestSeeder_Errors(t *testing.T) {
	ctx := context.Background()
	seeder := NewSeeder(&fakeEmbedder{}, memory.NewIndex(), "")

	_, err := seeder.Seed(ctx, strings.NewReader(`{"text":"ok"}`+"\nnot json\n"), "ns")
	require.ErrorIs(t, err, ErrInvalidSeed)
	require.Contains(t, err.Error(), "line 2")

	_, err = seeder.Seed(ctx, strings.NewReader(`{"id":"x","text":"  "}`), "ns")
	require.ErrorIs(t, err, ErrInvalidSeed)

	_, err = seeder.Seed(ctx, strings.NewReader(`{"text":"ok"}`), "")
	require.ErrorIs(t, err, ErrInvalidSeed)

	_, err = NewSeeder(&fakeEmbedder{err: errors.New("quota")}, memory.NewIndex(), "").
		Seed(ctx, strings.NewReader(`{"text":"ok"}`), "ns")
	require.ErrorContains(t, err, "quota")

	_, err = seeder.SeedFile(ctx, "does-not-exist.jsonl", "ns")
	require.Error(t, err)
}
