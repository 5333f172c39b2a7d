package tcp

import "testing"

func TestFdRegistryInsertRejectsDuplicateFd(t *testing.T) {
	r := newFdRegistry()
	if !r.insert(&fdContext{fd: 5, cport: 0, kind: fdContextServer}) {
		t.Fatalf("first insert should succeed")
	}
	if r.insert(&fdContext{fd: 5, cport: 1, kind: fdContextClient}) {
		t.Fatalf("duplicate fd should be rejected")
	}
}

func TestFdRegistryEraseRemovesAndReturns(t *testing.T) {
	r := newFdRegistry()
	r.insert(&fdContext{fd: 5, cport: 0, kind: fdContextServer})

	ctx := r.erase(5)
	if ctx == nil || ctx.fd != 5 {
		t.Fatalf("erase returned %+v", ctx)
	}
	if _, ok := r.find(5); ok {
		t.Fatalf("expected fd removed after erase")
	}
	if r.erase(5) != nil {
		t.Fatalf("second erase should be a no-op")
	}
}

func TestFdRegistryServerAndClientLookup(t *testing.T) {
	r := newFdRegistry()
	r.insert(&fdContext{fd: 10, cport: 3, kind: fdContextServer})
	r.insert(&fdContext{fd: 11, cport: 3, kind: fdContextClient})

	srv, ok := r.serverFor(3)
	if !ok || srv.fd != 10 {
		t.Fatalf("serverFor(3) = %+v, %v", srv, ok)
	}
	cli, ok := r.clientFor(3)
	if !ok || cli.fd != 11 {
		t.Fatalf("clientFor(3) = %+v, %v", cli, ok)
	}
	if _, ok := r.clientFor(4); ok {
		t.Fatalf("clientFor(4) should miss")
	}
}

func TestFdRegistryAllSnapshotsEverything(t *testing.T) {
	r := newFdRegistry()
	r.insert(&fdContext{fd: 1, cport: 0, kind: fdContextServer})
	r.insert(&fdContext{fd: 2, cport: 1, kind: fdContextServer})

	all := r.all()
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2", len(all))
	}
}
