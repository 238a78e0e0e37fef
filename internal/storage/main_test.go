package storage

import (
	"context"
	"crypto/md5"
	"log"
	"testing"

	"github.com/testcontainers/testcontainers-go"

	"github.com/kgraphrag/kgraphrag/helper"
)

var dbDSN string

func TestMain(m *testing.M) {
	var teardown func(ctx context.Context, opts ...testcontainers.TerminateOption) error
	teardown, port, err := helper.MustStartPostgresContainer()
	if err != nil {
		log.Fatalf("error starting postgres container: %v", err)
	}
	dbDSN = helper.TestDSN(port)

	m.Run()

	if teardown != nil && teardown(context.Background()) != nil {
		log.Fatalf("error tearing down postgres container: %v", err)
	}
}

const testEmbeddingDim = 16

// testEmbed is a deterministic stand-in for the ONNX embedder: equal texts
// embed equally, so similarity search over the test corpus behaves.
func testEmbed(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sum := md5.Sum([]byte(text))
		vec := make([]float32, testEmbeddingDim)
		for j := 0; j < testEmbeddingDim; j++ {
			vec[j] = float32(sum[j]) / 255
		}
		out[i] = vec
	}
	return out, nil
}

func openTestStore(t *testing.T) *Postgres {
	t.Helper()
	store, err := Open(Options{
		DSN:          dbDSN,
		EmbeddingDim: testEmbeddingDim,
		Embed:        testEmbed,
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
