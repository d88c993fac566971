package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/fankserver/caption-collector/internal/feedback"
	"github.com/fankserver/caption-collector/internal/pipeline"
	"github.com/fankserver/caption-collector/internal/segment"
	"github.com/fankserver/caption-collector/internal/textproc"
	"github.com/fankserver/caption-collector/pkg/transcriber"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// BenchmarkResults holds benchmark results
type BenchmarkResults struct {
	TestName            string
	Duration            time.Duration
	OperationsPerSecond float64
	MemoryUsed          uint64
	GoroutineCount      int
	Details             string
}

var benchIterations int

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure throughput of the text and transcription pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		// full-queue warnings are expected here
		logrus.SetLevel(logrus.ErrorLevel)

		fmt.Println("Caption Collector - Performance Benchmarks")
		fmt.Println("==========================================")

		results := make([]BenchmarkResults, 0)

		fmt.Println("\n1. Repetition Filter")
		results = append(results, benchmarkRepetitionFilter(benchIterations))

		fmt.Println("\n2. Delta Extraction")
		results = append(results, benchmarkDeltaExtraction(benchIterations))

		fmt.Println("\n3. Segment Builder")
		results = append(results, benchmarkSegmentBuilder(benchIterations))

		fmt.Println("\n4. Event Bus")
		results = append(results, benchmarkEventBus(benchIterations))

		fmt.Println("\n5. Transcription Queue")
		results = append(results, benchmarkTranscriptionQueue(benchIterations/100+1))

		printBenchmarkSummary(results)
		return nil
	},
}

func init() {
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 10000, "iterations per benchmark")
}

// measure runs fn and collects timing and memory figures around it.
func measure(name string, ops int, details string, fn func()) BenchmarkResults {
	var memBefore runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	fn()
	duration := time.Since(start)

	var memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memAfter)

	opsPerSec := float64(ops) / duration.Seconds()
	var memUsed uint64
	if memAfter.TotalAlloc > memBefore.TotalAlloc {
		memUsed = memAfter.TotalAlloc - memBefore.TotalAlloc
	}

	fmt.Printf("  Processed %d operations in %v\n", ops, duration)
	fmt.Printf("  Operations/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Memory allocated: %d bytes\n", memUsed)

	return BenchmarkResults{
		TestName:            name,
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             details,
	}
}

const benchCaption = "so today we are going to talk about rivers and how rivers shape the land " +
	"and how rivers shape the land over thousands of years. Rivers carry sediment. Rivers carry sediment."

func benchmarkRepetitionFilter(iterations int) BenchmarkResults {
	return measure("Repetition Filter", iterations, fmt.Sprintf("%d words per call", textproc.WordCount(benchCaption)), func() {
		for i := 0; i < iterations; i++ {
			_ = textproc.RemoveRepetitions(benchCaption)
		}
	})
}

func benchmarkDeltaExtraction(iterations int) BenchmarkResults {
	previous := "so today we are going to talk about rivers"
	current := "going to talk about rivers and how they shape the land"
	return measure("Delta Extraction", iterations, "overlap path", func() {
		for i := 0; i < iterations; i++ {
			_ = textproc.Extract(previous, current)
		}
	})
}

func benchmarkSegmentBuilder(iterations int) BenchmarkResults {
	clock := clockwork.NewFakeClock()
	builder := segment.NewBuilder(segment.DefaultBuilderConfig(), clock)
	words := strings.Fields(benchCaption)
	history := make([]segment.CaptionSegment, 0, 100)
	accepted := 0

	result := measure("Segment Builder", iterations, "history capped at 100", func() {
		for i := 0; i < iterations; i++ {
			w := i % (len(words) - 4)
			text := fmt.Sprintf("%s %s %s %d", words[w], words[w+1], words[w+2], i)
			seg, decision := builder.Build(text, float64(i)*1.5, 0, segment.SourceManual, history)
			if decision.Accepted() {
				accepted++
				history = append(history, seg)
				if len(history) == cap(history) {
					history = append(history[:0], history[50:]...)
				}
			}
		}
	})
	fmt.Printf("  Accepted: %d of %d\n", accepted, iterations)
	return result
}

func benchmarkEventBus(events int) BenchmarkResults {
	const subscribers = 5
	eventBus := feedback.NewEventBus(1000)
	defer eventBus.Stop()

	var eventCounter int64
	for i := 0; i < subscribers; i++ {
		eventBus.Subscribe(feedback.EventSegmentAdded, func(event feedback.Event) {
			atomic.AddInt64(&eventCounter, 1)
		})
	}

	result := measure("Event Bus", events, fmt.Sprintf("%d subscribers", subscribers), func() {
		for i := 0; i < events; i++ {
			eventBus.PublishSegment(feedback.EventSegmentAdded, "bench", feedback.SegmentData{Text: "bench", Start: float64(i)})
		}
		deadline := time.Now().Add(5 * time.Second)
		for atomic.LoadInt64(&eventCounter) < int64(events*subscribers) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	})
	fmt.Printf("  Delivered: %d\n", atomic.LoadInt64(&eventCounter))
	return result
}

func benchmarkTranscriptionQueue(chunks int) BenchmarkResults {
	var wg sync.WaitGroup
	queue := pipeline.NewTranscriptionQueue(pipeline.DefaultQueueConfig(), &transcriber.MockTranscriber{}, nil,
		func(pipeline.Task) { wg.Done() })
	queue.Start()
	defer queue.Stop()

	data := make([]byte, audio.DefaultFormat.BytesPerSecond()*8)
	dropped := 0
	result := measure("Transcription Queue", chunks, "8s chunks, mock transcriber", func() {
		for i := 0; i < chunks; i++ {
			wg.Add(1)
			chunk := audio.Chunk{Data: data, StartTime: float64(i) * 11, Duration: 8, Format: audio.DefaultFormat}
			for {
				if _, err := queue.Submit(chunk); err == nil {
					break
				}
				// full queue: the task was recorded as failed without a callback
				dropped++
				time.Sleep(time.Millisecond)
			}
		}
		waitTimeout(&wg, 10*time.Second)
	})
	fmt.Printf("  Retries on full queue: %d\n", dropped)
	return result
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func printBenchmarkSummary(results []BenchmarkResults) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	for _, result := range results {
		fmt.Printf("\n%s\n", result.TestName)
		fmt.Printf("   Duration: %v\n", result.Duration)
		if result.OperationsPerSecond > 0 {
			fmt.Printf("   Ops/sec: %.2f\n", result.OperationsPerSecond)
		}
		fmt.Printf("   Memory: %.2f MB\n", float64(result.MemoryUsed)/1024/1024)
		fmt.Printf("   Goroutines: %d\n", result.GoroutineCount)
		fmt.Printf("   Details: %s\n", result.Details)
	}

	var bestOpsPerSec float64
	var bestTest string
	for _, result := range results {
		if result.OperationsPerSecond > bestOpsPerSec {
			bestOpsPerSec = result.OperationsPerSecond
			bestTest = result.TestName
		}
	}
	if bestTest != "" {
		fmt.Printf("\nHighest throughput: %s (%.2f ops/sec)\n", bestTest, bestOpsPerSec)
	}
	fmt.Printf("Current goroutines: %d\n", runtime.NumGoroutine())
}
