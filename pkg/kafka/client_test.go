package kafka

import (
	"context"
	"errors"
	"testing"

	"equihire-go/pkg/errs"
	"equihire-go/pkg/tasks"
)

type fakeProcessor struct {
	err  error
	seen []tasks.ResumeIndexTask
}

func (f *fakeProcessor) Process(_ context.Context, task tasks.ResumeIndexTask) error {
	f.seen = append(f.seen, task)
	return f.err
}

type fakeAttempts struct {
	counts map[string]int64
	err    error
}

func (f *fakeAttempts) Incr(_ context.Context, key string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeAttempts) Reset(_ context.Context, key string) error {
	delete(f.counts, key)
	return nil
}

func TestConsumerHandle(t *testing.T) {
	msg := []byte(`{"resume_id":"r1","text":"go developer"}`)
	tests := []struct {
		name       string
		value      []byte
		procErr    error
		trackerErr error
		calls      int
		want       []bool
	}{
		{name: "success commits", value: msg, calls: 1, want: []bool{true}},
		{name: "malformed commits", value: []byte(`{not json`), calls: 1, want: []bool{true}},
		{name: "input error commits", value: msg, procErr: errs.NewInput("text", "empty"), calls: 1, want: []bool{true}},
		{name: "transient error retried until limit", value: msg, procErr: errors.New("tika down"), calls: 3, want: []bool{false, false, true}},
		{name: "tracker failure keeps message", value: msg, procErr: errors.New("tika down"), trackerErr: errors.New("redis down"), calls: 1, want: []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.procErr}
			tracker := &fakeAttempts{counts: map[string]int64{}, err: tt.trackerErr}
			c := NewConsumer(proc, tracker, 3)
			for i := 0; i < tt.calls; i++ {
				if got := c.Handle(context.Background(), tt.value); got != tt.want[i] {
					t.Fatalf("call %d: commit = %v, want %v", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestConsumerResetsAttemptsOnSuccess(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("flaky")}
	tracker := &fakeAttempts{counts: map[string]int64{}}
	c := NewConsumer(proc, tracker, 3)
	msg := []byte(`{"resume_id":"r1","text":"x"}`)

	c.Handle(context.Background(), msg)
	proc.err = nil
	if !c.Handle(context.Background(), msg) {
		t.Fatalf("success must commit")
	}
	if _, ok := tracker.counts["kafka:attempts:r1"]; ok {
		t.Fatalf("attempt counter not reset")
	}
	if len(proc.seen) != 2 || proc.seen[0].ResumeID != "r1" {
		t.Fatalf("unexpected tasks %+v", proc.seen)
	}
}
