package embedding

import "github.com/hyperjump/docchat/pkg/utils"

// Special token ids of BERT-style vocabularies.
const (
	tokenCLS   = 101
	tokenSEP   = 102
	vocabLimit = 30000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs.
type SimpleTokenizer struct{}

// Tokenize splits text into lower-cased words and produces token IDs padded to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1

	pos := 1
	for _, word := range words(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(word) % vocabLimit)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = tokenSEP
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 { // math.MinInt
		return 0
	}
	return h
}

// packRows tokenizes texts into consecutive rows of the flat input buffers.
// Rows past len(texts) are reset to padding so a short final batch leaves no
// tokens from the previous run.
func packRows(tokenizer Tokenizer, texts []string, maxTokens int, inputIDs, attentionMask, tokenTypeIDs []int64) {
	rows := len(inputIDs) / maxTokens
	for row := 0; row < rows; row++ {
		at := row * maxTokens
		if row >= len(texts) {
			clear(inputIDs[at : at+maxTokens])
			clear(attentionMask[at : at+maxTokens])
			clear(tokenTypeIDs[at : at+maxTokens])
			continue
		}
		ids, mask, types := tokenizer.Tokenize(texts[row], maxTokens)
		copy(inputIDs[at:at+maxTokens], ids)
		copy(attentionMask[at:at+maxTokens], mask)
		copy(tokenTypeIDs[at:at+maxTokens], types)
	}
}

// splitRows copies the first n rows of a flat [rows x dimensions] output and
// L2-normalizes each.
func splitRows(output []float32, n, dimensions int) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dimensions)
		copy(v, output[i*dimensions:(i+1)*dimensions])
		utils.NormalizeL2(v)
		vectors[i] = v
	}
	return vectors
}
