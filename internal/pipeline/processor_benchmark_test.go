package pipeline

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkProcessorCoverJPEG(b *testing.B) {
	source := buildTestJPEG(b, 1920, 1080)
	processor := NewProcessor(Config{})
	req := Request{Width: 256, Height: 256, Fit: FitCover, Format: FormatJPEG, Quality: 82}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), source, req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorContainPNG(b *testing.B) {
	source := buildTestPNG(b, 1920, 1080)
	processor := NewProcessor(Config{})
	req := Request{Width: 128, Height: 128, Fit: FitContain, Format: FormatPNG}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := processor.Process(context.Background(), source, req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkResampleWorkers(b *testing.B) {
	src := testBuffer(b, 1920, 1080, LayoutRGBA, 1)
	for _, workers := range []int{1, 4} {
		opts := ResizeOptions{Width: 640, Height: 360, Fit: FitStretch, Workers: workers}
		b.Run(fmt.Sprintf("workers-%d", workers), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := Resample(src, opts); err != nil {
					b.Fatalf("resample: %v", err)
				}
			}
		})
	}
}
