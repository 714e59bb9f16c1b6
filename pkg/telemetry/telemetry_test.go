package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"k8s.io/klog/klogr"
)

func TestWithSpan_RecordsStages(t *testing.T) {
	tm, err := New("wbstage_test", []SpanKind{KindRun, KindStage}, Logger(klogr.New()))
	if err != nil {
		t.Fatal(err)
	}

	errSign := errors.New("signing failed")
	err = tm.WithSpan(context.Background(), KindRun, "wb", func(ctx context.Context) error {
		if err := tm.WithSpan(ctx, KindStage, "stage", func(ctx context.Context) error { return nil }); err != nil {
			return err
		}
		return tm.WithSpan(ctx, KindStage, "sign", func(ctx context.Context) error { return errSign })
	})
	if err != errSign {
		t.Fatalf("unexpected error: %v", err)
	}

	stages := tm.Metrics.MetricSet("stage")
	if v := testutil.ToFloat64(stages.Finished.WithLabelValues("wb", "stage", "OK")); v != 1 {
		t.Errorf("stage: expected 1 success, got %v", v)
	}
	if v := testutil.ToFloat64(stages.Finished.WithLabelValues("wb", "sign", "Unknown")); v != 1 {
		t.Errorf("sign: expected 1 failure, got %v", v)
	}
	if v := testutil.ToFloat64(stages.Started.WithLabelValues("wb", "sign")); v != 1 {
		t.Errorf("sign: expected 1 start, got %v", v)
	}

	runs := tm.Metrics.MetricSet("run")
	if v := testutil.ToFloat64(runs.Finished.WithLabelValues("wb", "Unknown")); v != 1 {
		t.Errorf("run: expected 1 failure, got %v", v)
	}
}

func TestWithSpan_UnknownKind(t *testing.T) {
	tm, err := New("wbstage_test_kind", []SpanKind{KindRun})
	if err != nil {
		t.Fatal(err)
	}
	called := false
	err = tm.WithSpan(context.Background(), KindStage, "sign", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil || called {
		t.Errorf("unregistered kind should be rejected without running the body")
	}
}

func TestNilTelemeter(t *testing.T) {
	var tm *Telemeter
	called := false
	err := tm.WithSpan(context.Background(), KindStage, "sign", func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("nil telemeter should run the body: called=%v err=%v", called, err)
	}
	tm.AddTraceEvent(context.Background(), "verification failure")
	if err := tm.Push(); err != nil {
		t.Errorf("push on nil telemeter: %v", err)
	}
}

func TestPush_NoEndpoint(t *testing.T) {
	tm, err := New("wbstage_test_push", []SpanKind{KindRun, KindStage})
	if err != nil {
		t.Fatal(err)
	}
	if err := tm.Push(); err != nil {
		t.Errorf("push without endpoint should be a no-op: %v", err)
	}
}
