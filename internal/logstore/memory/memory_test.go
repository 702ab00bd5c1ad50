package memory

import "testing"

func TestApplyPreparedAssignsIncreasingTxIDs(t *testing.T) {
	set := NewSet("nodes")
	ds, ok := set.ByName("nodes")
	if !ok {
		t.Fatal("expected pre-registered resource nodes")
	}

	tx1, err := ds.ApplyPrepared([]byte("first"))
	if err != nil {
		t.Fatalf("ApplyPrepared: %v", err)
	}
	tx2, err := ds.ApplyPrepared([]byte("second"))
	if err != nil {
		t.Fatalf("ApplyPrepared: %v", err)
	}
	if tx1 != 1 || tx2 != 2 {
		t.Fatalf("expected tx ids 1, 2, got %d, %d", tx1, tx2)
	}
	if ds.MasterFor() != 2 {
		t.Fatalf("expected MasterFor()=2, got %d", ds.MasterFor())
	}
}

func TestTailOnlyReturnsRecordsAfterWatermark(t *testing.T) {
	set := NewSet("nodes")
	ds, _ := set.ByName("nodes")
	for _, payload := range []string{"a", "b", "c"} {
		if _, err := ds.ApplyPrepared([]byte(payload)); err != nil {
			t.Fatalf("ApplyPrepared: %v", err)
		}
	}

	it, err := ds.Tail(1)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Record().Payload))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected [b c] after watermark 1, got %v", got)
	}
}

func TestByNameNeverAutoVivifies(t *testing.T) {
	set := NewSet("nodes")
	if _, ok := set.ByName("relationships"); ok {
		t.Fatal("expected ByName to refuse an unregistered resource")
	}
	names := set.Names()
	if len(names) != 1 || names[0] != "nodes" {
		t.Fatalf("expected Names() == [nodes], got %v", names)
	}
}
