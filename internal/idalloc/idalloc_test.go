package idalloc

import "testing"

func TestAllocateFreshRange(t *testing.T) {
	a := NewBatchAllocator(1000)
	alloc, err := a.Allocate("node", 5)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if alloc.Start != 1 || alloc.Count != 5 {
		t.Fatalf("expected Start=1 Count=5, got %+v", alloc)
	}
	if len(alloc.Sparse) != 0 {
		t.Fatalf("expected no reused ids on a fresh allocator, got %v", alloc.Sparse)
	}
	if alloc.HighWatermark != 5 {
		t.Fatalf("expected high watermark 5, got %d", alloc.HighWatermark)
	}
}

func TestFreeIdsAreReusedBeforeExtendingRange(t *testing.T) {
	a := NewBatchAllocator(1000)
	first, err := a.Allocate("node", 3)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Free("node", first.Start+1) // free the middle id

	second, err := a.Allocate("node", 3)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(second.Sparse) != 1 || second.Sparse[0] != first.Start+1 {
		t.Fatalf("expected the freed id reused first, got %+v", second)
	}
	if second.DefragCount == 0 {
		t.Fatal("expected DefragCount to record the reuse")
	}
	if second.Count != 2 {
		t.Fatalf("expected the remaining 2 ids to come from a fresh range, got count=%d", second.Count)
	}
}

func TestIdTypesAreIndependent(t *testing.T) {
	a := NewBatchAllocator(1000)
	nodeAlloc, err := a.Allocate("node", 2)
	if err != nil {
		t.Fatalf("Allocate node: %v", err)
	}
	relAlloc, err := a.Allocate("relationship", 2)
	if err != nil {
		t.Fatalf("Allocate relationship: %v", err)
	}
	if nodeAlloc.Start != relAlloc.Start {
		t.Fatalf("expected independent id spaces to both start at 1, got %d vs %d", nodeAlloc.Start, relAlloc.Start)
	}
}

func TestAllocateBatchUsesConfiguredSize(t *testing.T) {
	a := NewBatchAllocator(10)
	alloc, err := a.AllocateBatch("node")
	if err != nil {
		t.Fatalf("AllocateBatch: %v", err)
	}
	if alloc.Count != 10 {
		t.Fatalf("expected batch size 10, got %d", alloc.Count)
	}
}
