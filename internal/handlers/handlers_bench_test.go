package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

func benchResponse() types.Response {
	rec := types.ComponentDebugRecord{
		Key:        "hosted-fields",
		Name:       "Hosted Fields",
		Version:    "3.63.0",
		CreateArgs: []any{map[string]any{"client": "[Client]", "fields": map[string]any{"number": map[string]any{"selector": "#card-number"}}}},
		Created:    true,
		Log:        []string{`on("blur", "Function")`, `tokenize()`},
	}
	return types.Response{
		Status:     types.StatusOK,
		Message:    "1 components",
		StartTime:  time.Now().UnixMilli(),
		EndTime:    time.Now().UnixMilli(),
		Version:    "dev",
		Components: []types.ComponentDebugRecord{rec},
	}
}

// BenchmarkJSONEncode measures JSON response encoding performance.
func BenchmarkJSONEncode(b *testing.B) {
	resp := benchResponse()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(resp); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkJSONEncodeWithPool measures JSON encoding using pooled buffers.
func BenchmarkJSONEncodeWithPool(b *testing.B) {
	resp := benchResponse()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := responseBuffers.Get()
		if err := json.NewEncoder(buf).Encode(resp); err != nil {
			b.Fatal(err)
		}
		responseBuffers.Put(buf)
	}
}

// BenchmarkWriteJSONResponse measures the full response path.
func BenchmarkWriteJSONResponse(b *testing.B) {
	h := &Handler{}
	resp := benchResponse()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		h.writeJSONResponse(w, 200, resp)
	}
}

func TestBufferPool(t *testing.T) {
	p := newBufferPool(16, 64)

	small := p.Get()
	small.WriteString("data")
	p.Put(small)
	if small.Len() != 0 {
		t.Errorf("pooled buffer was not reset, len = %d", small.Len())
	}

	big := bytes.NewBuffer(make([]byte, 0, 65))
	big.WriteString("data")
	p.Put(big)
	// Oversized buffers are not reset because they are not pooled.
	if big.Len() != 4 {
		t.Errorf("oversized buffer was touched, len = %d", big.Len())
	}

	if got := p.Get(); got.Len() != 0 {
		t.Errorf("Get() returned a buffer with %d bytes", got.Len())
	}
}
