package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeFetcher struct{}

func (fakeFetcher) Open(_ context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte("audio:" + key))), nil
}

// fakeProvider scripts per-segment behavior keyed by the request filename
// (which the orchestrator sets to the storage key).
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	fail    map[string]int           // storage key → number of failing attempts (-1 = always)
	delay   map[string]time.Duration // storage key → artificial latency
	respFor func(key string) *Response
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-1" }

func (p *fakeProvider) Transcribe(ctx context.Context, req Request) (*Response, error) {
	p.mu.Lock()
	p.calls++
	p.prompts = append(p.prompts, req.Prompt)
	failures := p.fail[req.Filename]
	if failures != 0 {
		if failures > 0 {
			p.fail[req.Filename] = failures - 1
		}
		p.mu.Unlock()
		return nil, fmt.Errorf("provider unavailable for %s", req.Filename)
	}
	d := p.delay[req.Filename]
	p.mu.Unlock()

	if d > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	if p.respFor != nil {
		return p.respFor(req.Filename), nil
	}
	return &Response{
		Text:       "text for " + req.Filename,
		Language:   "pt",
		Confidence: 0.9,
		Segments: []FineSegment{
			{LocalID: 0, Start: 0, End: 1, Text: "text for " + req.Filename, Confidence: 0.9, LocalSpeaker: "SPEAKER_00"},
		},
	}, nil
}

func newTestOrchestrator(p Provider, opts Options) *Orchestrator {
	o := NewOrchestrator(p, fakeFetcher{}, opts, zerolog.Nop())
	o.sleep = func(context.Context, time.Duration) error { return nil }
	return o
}

func segs(n int) []AudioSegment {
	out := make([]AudioSegment, n)
	for i := 0; i < n; i++ {
		out[i] = AudioSegment{
			ID:              fmt.Sprintf("seg-%d", i),
			Index:           i,
			StartTime:       float64(i) * 30,
			EndTime:         float64(i+1) * 30,
			DurationSeconds: 30,
			StorageKey:      fmt.Sprintf("job/seg-%d.wav", i),
		}
	}
	return out
}

func TestProcessSegments_OrderedDespiteCompletionOrder(t *testing.T) {
	p := &fakeProvider{
		// Later segments in a batch finish first.
		delay: map[string]time.Duration{
			"job/seg-0.wav": 30 * time.Millisecond,
			"job/seg-1.wav": 15 * time.Millisecond,
			"job/seg-2.wav": 1 * time.Millisecond,
		},
	}
	o := newTestOrchestrator(p, Options{BatchSize: 3})

	// Shuffled input order must not matter either.
	in := segs(3)
	in[0], in[2] = in[2], in[0]

	got, err := o.ProcessSegments(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("ProcessSegments: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(got))
	}
	for i, st := range got {
		if st.SegmentIndex != i {
			t.Errorf("results[%d].SegmentIndex = %d, want %d", i, st.SegmentIndex, i)
		}
		if st.SegmentID != fmt.Sprintf("seg-%d", i) {
			t.Errorf("results[%d].SegmentID = %q", i, st.SegmentID)
		}
	}
}

func TestProcessSegments_GlobalTimeline(t *testing.T) {
	p := &fakeProvider{
		respFor: func(key string) *Response {
			return &Response{
				Text:       "hello",
				Confidence: 0.8,
				Segments: []FineSegment{
					{Start: 1.5, End: 4.0, Text: "hello", Confidence: 0.8,
						Words: []Word{{Word: "hello", Start: 1.5, End: 4.0}}},
				},
			}
		},
	}
	o := newTestOrchestrator(p, Options{BatchSize: 3})

	got, err := o.ProcessSegments(context.Background(), segs(2), nil)
	if err != nil {
		t.Fatalf("ProcessSegments: %v", err)
	}

	// Second segment starts at t=30, so its fine segment shifts to 31.5.
	fs := got[1].Segments[0]
	if fs.Start != 31.5 || fs.End != 34.0 {
		t.Errorf("fine segment = [%v, %v], want [31.5, 34.0]", fs.Start, fs.End)
	}
	if w := fs.Words[0]; w.Start != 31.5 || w.End != 34.0 {
		t.Errorf("word = [%v, %v], want [31.5, 34.0]", w.Start, w.End)
	}
}

func TestProcessSegments_ExhaustedRetriesDegrade(t *testing.T) {
	p := &fakeProvider{fail: map[string]int{"job/seg-1.wav": -1}}
	o := newTestOrchestrator(p, Options{BatchSize: 3, MaxRetries: 3})

	got, err := o.ProcessSegments(context.Background(), segs(3), nil)
	if err != nil {
		t.Fatalf("ProcessSegments should not fail the whole run: %v", err)
	}

	if got[1].Text != "" || got[1].OverallConfidence != 0 {
		t.Errorf("failed segment = {%q, %v}, want empty zero-confidence placeholder",
			got[1].Text, got[1].OverallConfidence)
	}
	if got[1].Segments == nil || len(got[1].Segments) != 0 {
		t.Errorf("failed segment fine segments = %v, want empty slice", got[1].Segments)
	}
	for _, i := range []int{0, 2} {
		if got[i].Text == "" || got[i].OverallConfidence == 0 {
			t.Errorf("segment %d should be intact, got {%q, %v}", i, got[i].Text, got[i].OverallConfidence)
		}
	}
}

func TestProcessSegments_RetrySucceedsEventually(t *testing.T) {
	p := &fakeProvider{fail: map[string]int{"job/seg-0.wav": 2}}
	o := newTestOrchestrator(p, Options{BatchSize: 1, MaxRetries: 3})

	got, err := o.ProcessSegments(context.Background(), segs(1), nil)
	if err != nil {
		t.Fatalf("ProcessSegments: %v", err)
	}
	if got[0].Text == "" {
		t.Error("segment should succeed on the third attempt")
	}
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls)
	}
}

func TestProcessSegments_ProgressPerBatch(t *testing.T) {
	p := &fakeProvider{}
	o := newTestOrchestrator(p, Options{BatchSize: 3, ProgressCeiling: 90})

	var reported []int
	_, err := o.ProcessSegments(context.Background(), segs(5), func(pct int) {
		reported = append(reported, pct)
	})
	if err != nil {
		t.Fatalf("ProcessSegments: %v", err)
	}

	// round(3/5*90)=54, round(5/5*90)=90
	want := []int{54, 90}
	if len(reported) != len(want) {
		t.Fatalf("progress reports = %v, want %v", reported, want)
	}
	for i := range want {
		if reported[i] != want[i] {
			t.Errorf("progress[%d] = %d, want %d", i, reported[i], want[i])
		}
	}
}

func TestProcessSegments_ContinuityHint(t *testing.T) {
	p := &fakeProvider{
		respFor: func(key string) *Response {
			return &Response{
				Text:       "line one\ntrailing of " + key,
				Confidence: 0.9,
				Segments:   []FineSegment{{Text: "x", Confidence: 0.9}},
			}
		},
	}
	o := newTestOrchestrator(p, Options{BatchSize: 1})

	if _, err := o.ProcessSegments(context.Background(), segs(3), nil); err != nil {
		t.Fatalf("ProcessSegments: %v", err)
	}

	if p.prompts[0] != "" {
		t.Errorf("first segment prompt = %q, want empty", p.prompts[0])
	}
	if p.prompts[1] != "trailing of job/seg-0.wav" {
		t.Errorf("second segment prompt = %q", p.prompts[1])
	}
	// Third segment sees trailing lines of both earlier segments, oldest first.
	wantThird := "trailing of job/seg-0.wav trailing of job/seg-1.wav"
	if p.prompts[2] != wantThird {
		t.Errorf("third segment prompt = %q, want %q", p.prompts[2], wantThird)
	}
}

func TestProcessSegments_EmptyInput(t *testing.T) {
	o := newTestOrchestrator(&fakeProvider{}, Options{})
	got, err := o.ProcessSegments(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ProcessSegments: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(results) = %d, want 0", len(got))
	}
}

func TestProgressValue(t *testing.T) {
	cases := []struct {
		completed, total, ceiling, want int
	}{
		{1, 3, 90, 30},
		{2, 3, 90, 60},
		{3, 3, 90, 90},
		{1, 7, 90, 13},
		{5, 5, 100, 100},
	}
	for _, c := range cases {
		if got := progressValue(c.completed, c.total, c.ceiling); got != c.want {
			t.Errorf("progressValue(%d, %d, %d) = %d, want %d",
				c.completed, c.total, c.ceiling, got, c.want)
		}
	}
}
