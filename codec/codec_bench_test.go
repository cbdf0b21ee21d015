package codec_test

import (
	"testing"

	"github.com/hupe1980/ept/codec"
	"github.com/hupe1980/ept/geo"
	"github.com/hupe1980/ept/manifest"
	"github.com/hupe1980/ept/metadata"
)

type benchChild struct {
	K string `json:"k"`
	V int64  `json:"v"`
}

type benchPayload struct {
	ID       uint64            `json:"id"`
	Title    string            `json:"title"`
	Score    float64           `json:"score"`
	Tags     []string          `json:"tags"`
	Attrs    map[string]string `json:"attrs"`
	Flags    []bool            `json:"flags"`
	Children []benchChild      `json:"children"`
}

func benchmarkCodecMarshal(b *testing.B, c codec.Codec, v any) {
	b.Helper()
	b.ReportAllocs()

	warm, err := c.Marshal(v)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(warm)))

	var sink []byte
	b.ResetTimer()
	for b.Loop() {
		out, err := c.Marshal(v)
		if err != nil {
			b.Fatal(err)
		}
		sink = out
	}
	_ = sink
}

func benchmarkCodecUnmarshal[T any](b *testing.B, c codec.Codec, data []byte, dst *T) {
	b.Helper()
	b.ReportAllocs()
	b.SetBytes(int64(len(data)))

	var v T
	b.ResetTimer()
	for b.Loop() {
		if err := c.Unmarshal(data, &v); err != nil {
			b.Fatal(err)
		}
	}
	if dst != nil {
		*dst = v
	}
}

func BenchmarkCodec_Marshal_Payload(b *testing.B) {
	payload := benchPayload{
		ID:    123456789,
		Title: "hello ept",
		Score: 0.12345,
		Tags:  []string{"a", "b", "c", "d", "e"},
		Attrs: map[string]string{
			"kind":  "bench",
			"owner": "hupe1980",
			"repo":  "ept",
			"lang":  "go",
		},
		Flags: []bool{true, false, true, true, false, false, true},
		Children: []benchChild{
			{K: "x", V: 1},
			{K: "y", V: 2},
			{K: "z", V: 3},
		},
	}

	b.Run("stdlib", func(b *testing.B) { benchmarkCodecMarshal(b, codec.JSON{}, payload) })
	b.Run("go-json", func(b *testing.B) { benchmarkCodecMarshal(b, codec.GoJSON{}, payload) })
}

func BenchmarkCodec_Unmarshal_Payload(b *testing.B) {
	payload := benchPayload{
		ID:    123456789,
		Title: "hello ept",
		Score: 0.12345,
		Tags:  []string{"a", "b", "c", "d", "e"},
		Attrs: map[string]string{
			"kind":  "bench",
			"owner": "hupe1980",
			"repo":  "ept",
			"lang":  "go",
		},
		Flags: []bool{true, false, true, true, false, false, true},
		Children: []benchChild{
			{K: "x", V: 1},
			{K: "y", V: 2},
			{K: "z", V: 3},
		},
	}

	jsonData := codec.MustMarshal(codec.JSON{}, payload)

	b.Run("stdlib", func(b *testing.B) {
		var sink benchPayload
		benchmarkCodecUnmarshal(b, codec.JSON{}, jsonData, &sink)
		_ = sink
	})
	b.Run("go-json", func(b *testing.B) {
		var sink benchPayload
		benchmarkCodecUnmarshal(b, codec.GoJSON{}, jsonData, &sink)
		_ = sink
	})
}

func benchMetadata() metadata.Metadata {
	return metadata.Metadata{
		BoundsNative:     geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 100, Y: 100, Z: 50}),
		BoundsConforming: geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 128, Y: 128, Z: 128}),
		Bounds:           geo.NewBounds(geo.Point{X: 0, Y: 0, Z: 0}, geo.Point{X: 128, Y: 128, Z: 128}),
		Subset:           &metadata.Subset{ID: 1, Of: 4},
		Scale:            &geo.Point{X: 0.01, Y: 0.01, Z: 0.01},
		Offset:           &geo.Point{X: 0, Y: 0, Z: 0},
		Transformation:   []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1},
		Manifest:         &metadata.ManifestSummary{PointStats: manifest.PointStats{Inserts: 42, OutOfBounds: 1}},
		Errors:           []string{"a", "b", "c"},
	}
}

func BenchmarkCodec_Marshal_Metadata(b *testing.B) {
	m := benchMetadata()

	b.Run("stdlib", func(b *testing.B) { benchmarkCodecMarshal(b, codec.JSON{}, m) })
	b.Run("go-json", func(b *testing.B) { benchmarkCodecMarshal(b, codec.GoJSON{}, m) })
}

func BenchmarkCodec_Unmarshal_Metadata(b *testing.B) {
	m := benchMetadata()

	jsonData := codec.MustMarshal(codec.JSON{}, m)

	b.Run("stdlib", func(b *testing.B) {
		var sink metadata.Metadata
		benchmarkCodecUnmarshal(b, codec.JSON{}, jsonData, &sink)
		_ = sink
	})
	b.Run("go-json", func(b *testing.B) {
		var sink metadata.Metadata
		benchmarkCodecUnmarshal(b, codec.GoJSON{}, jsonData, &sink)
		_ = sink
	})
}
