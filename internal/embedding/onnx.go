//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxBatchRows is the number of passages embedded by one batched session run.
const onnxBatchRows = 16

// ONNXEmbedder runs a local sentence-embedding model with ONNX Runtime. It requires
// CGO and the onnxruntime shared library. Questions go through a single-row
// session; passages are embedded onnxBatchRows at a time through a second
// session on the same model, which needs a dynamic batch axis.
type ONNXEmbedder struct {
	single     *onnxRun
	batch      *onnxRun
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	mu         sync.Mutex
}

// onnxRun is a session bound to fixed-shape tensors. Run() reads the input
// tensors and writes the output tensor in place.
type onnxRun struct {
	session       *ort.AdvancedSession
	rows          int
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newONNXRun(modelPath string, rows, maxTokens, dimensions int) (*onnxRun, error) {
	r := &onnxRun{rows: rows}
	inputShape := ort.NewShape(int64(rows), int64(maxTokens))
	var err error
	if r.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if r.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if r.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if r.output, err = ort.NewEmptyTensor[float32](ort.NewShape(int64(rows), int64(dimensions))); err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	r.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{r.inputIDs, r.attentionMask, r.tokenTypeIDs},
		[]ort.ArbitraryTensor{r.output},
		nil,
	)
	if err != nil {
		r.destroy()
		return nil, fmt.Errorf("failed to create ONNX session (%d rows): %w", rows, err)
	}
	return r, nil
}

// run embeds up to r.rows texts and returns one normalized vector per text.
func (r *onnxRun) run(tokenizer Tokenizer, texts []string, maxTokens, dimensions int) ([][]float32, error) {
	packRows(tokenizer, texts, maxTokens, r.inputIDs.GetData(), r.attentionMask.GetData(), r.tokenTypeIDs.GetData())
	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return splitRows(r.output.GetData(), len(texts), dimensions), nil
}

func (r *onnxRun) destroy() error {
	var err error
	if r.session != nil {
		err = r.session.Destroy()
		r.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{r.inputIDs, r.attentionMask, r.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if r.output != nil {
		_ = r.output.Destroy()
	}
	r.inputIDs, r.attentionMask, r.tokenTypeIDs, r.output = nil, nil, nil, nil
	return err
}

// NewONNXEmbedder loads the model at modelPath into a single-row and a batched session.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}

	single, err := newONNXRun(modelPath, 1, maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	batch, err := newONNXRun(modelPath, onnxBatchRows, maxTokens, dimensions)
	if err != nil {
		_ = single.destroy()
		return nil, err
	}
	return &ONNXEmbedder{
		single:     single,
		batch:      batch,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &SimpleTokenizer{},
	}, nil
}

// Embed returns the normalized embedding of text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := e.single.run(e.tokenizer, []string{text}, e.maxTokens, e.dimensions)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts onnxBatchRows at a time. A trailing group of one text
// uses the single-row session.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	e.mu.Lock()
	defer e.mu.Unlock()

	for start := 0; start < len(texts); start += onnxBatchRows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + onnxBatchRows
		if end > len(texts) {
			end = len(texts)
		}
		r := e.batch
		if end-start == 1 {
			r = e.single
		}
		out, err := r.run(e.tokenizer, texts[start:end], e.maxTokens, e.dimensions)
		if err != nil {
			return nil, fmt.Errorf("batch at %d: %w", start, err)
		}
		embeddings = append(embeddings, out...)
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys both sessions and their tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.batch != nil {
		err = e.batch.destroy()
		e.batch = nil
	}
	if e.single != nil {
		if serr := e.single.destroy(); err == nil {
			err = serr
		}
		e.single = nil
	}
	return err
}
