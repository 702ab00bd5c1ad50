package responsepacker

import (
	"testing"

	"github.com/haxdb/rtc-master/internal/logstore/memory"
	"github.com/haxdb/rtc-master/internal/session"
)

func TestPackOnlyStreamsWatchedResources(t *testing.T) {
	set := memory.NewSet("nodes", "relationships")
	nodes, _ := set.ByName("nodes")
	rels, _ := set.ByName("relationships")

	for _, payload := range []string{"n1", "n2"} {
		if _, err := nodes.ApplyPrepared([]byte(payload)); err != nil {
			t.Fatalf("ApplyPrepared nodes: %v", err)
		}
	}
	if _, err := rels.ApplyPrepared([]byte("r1")); err != nil {
		t.Fatalf("ApplyPrepared relationships: %v", err)
	}

	key := session.Key{Watermarks: []session.Watermark{{ResourceName: "nodes", TxIDSeen: 0}}}
	p := New(set)
	stream, err := p.Pack(key, nil)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	defer stream.Close()

	var got []string
	for stream.Next() {
		got = append(got, string(stream.Record().Payload))
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(got) != 2 || got[0] != "n1" || got[1] != "n2" {
		t.Fatalf("expected only the nodes records streamed, got %v", got)
	}
}

func TestPackWithFilterExcludesSelfEcho(t *testing.T) {
	set := memory.NewSet("nodes")
	nodes, _ := set.ByName("nodes")
	tx1, _ := nodes.ApplyPrepared([]byte("n1"))
	if _, err := nodes.ApplyPrepared([]byte("n2")); err != nil {
		t.Fatalf("ApplyPrepared: %v", err)
	}

	key := session.Key{Watermarks: []session.Watermark{{ResourceName: "nodes", TxIDSeen: 0}}}
	p := New(set)
	filter := func(name string, txid uint64) bool {
		return name != "nodes" || txid > tx1
	}
	stream, err := p.Pack(key, filter)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	defer stream.Close()

	var got []string
	for stream.Next() {
		got = append(got, string(stream.Record().Payload))
	}
	if len(got) != 1 || got[0] != "n2" {
		t.Fatalf("expected the filter to exclude tx1, got %v", got)
	}
}

func TestPackUnknownResourceErrors(t *testing.T) {
	set := memory.NewSet("nodes")
	key := session.Key{Watermarks: []session.Watermark{{ResourceName: "ghost", TxIDSeen: 0}}}
	p := New(set)
	if _, err := p.Pack(key, nil); err == nil {
		t.Fatal("expected Pack to error on a watermark naming an unregistered resource")
	}
}
