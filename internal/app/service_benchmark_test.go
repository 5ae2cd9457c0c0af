package app

import (
	"context"
	"testing"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/engine"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/rules"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/tree/cache"
)

const benchTreeDOT = `digraph pipeline {
  main [type=group];
  prep [type=group, threshold=0.5];
  main -> prep;
  prep -> A_Init;
  prep -> B_Scale;
  main -> C_Normalize;
  main -> D_Transform;
  main -> E_Finalize;
}`

func benchmarkService() *Service {
	exec := engine.NewExecutor(rules.DefaultRegistry(), engine.DefaultConfig())
	return NewService(exec, cache.NewInMemory(1024))
}

func BenchmarkServiceRunCached(b *testing.B) {
	svc := benchmarkService()
	ctx := context.Background()

	_, err := svc.Run(ctx, RunRequest{Data: []float64{1, 2, 3}, TreeDOT: benchTreeDOT})
	if err != nil {
		b.Fatalf("warmup run failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := svc.Run(ctx, RunRequest{Data: []float64{1, 2, 3}, TreeDOT: benchTreeDOT})
		if err != nil {
			b.Fatalf("run failed: %v", err)
		}
	}
}

func BenchmarkServiceRunCachedParallel(b *testing.B) {
	svc := benchmarkService()
	ctx := context.Background()

	_, err := svc.Run(ctx, RunRequest{Data: []float64{1, 2, 3}, TreeDOT: benchTreeDOT})
	if err != nil {
		b.Fatalf("warmup run failed: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, err := svc.Run(ctx, RunRequest{Data: []float64{1, 2, 3}, TreeDOT: benchTreeDOT})
			if err != nil {
				b.Errorf("run failed: %v", err)
				return
			}
		}
	})
}
