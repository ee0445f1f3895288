package store

import (
	"context"
	"testing"

	"ipamclient/internal/repository"
)

func TestAssociate(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Store, *faultyRepo, *Node, *Node) {
		s, repo := newTestStore(t)
		f := mustCommit(t, s.Root(), "F")
		return s, repo, mustCommit(t, f, "I", "a"), mustCommit(t, f, "I", "b")
	}

	t.Run("links are symmetric", func(t *testing.T) {
		_, repo, a, b := setup(t)
		assertNoError(t, a.Associate(ctx, b))
		assertNoError(t, a.Associate(ctx, b))

		if repo.calls["link"] != 1 {
			t.Errorf("expected one remote link, got %d", repo.calls["link"])
		}
		if !a.IsAssociated(b) || b.IsAssociated(a) {
			t.Error("expected a -> b only")
		}
		if !a.IsLinked(b) || !b.IsLinked(a) {
			t.Error("expected the link to be visible from both ends")
		}

		assocs, err := a.ListAssociations(ctx)
		assertNoError(t, err)
		assertNodes(t, []*Node{b}, assocs)
		refs, err := b.ListReferences(ctx)
		assertNoError(t, err)
		assertNodes(t, []*Node{a}, refs)
		links, err := b.ListLinks(ctx)
		assertNoError(t, err)
		assertNodes(t, []*Node{a}, links)
	})

	t.Run("unlink from either end", func(t *testing.T) {
		_, _, a, b := setup(t)
		assertNoError(t, a.Associate(ctx, b))
		assertNoError(t, b.Unlink(ctx, a))
		if a.IsLinked(b) {
			t.Error("expected link to be gone")
		}
		if len(b.ReferenceOIDs()) != 0 {
			t.Errorf("expected no references, got %v", b.ReferenceOIDs())
		}
		assertErrorIs(t, a.Unlink(ctx, b), ErrNotLinked)
		assertErrorIs(t, a.Disassociate(ctx, b), ErrNotLinked)
	})

	t.Run("remote failure leaves mirror untouched", func(t *testing.T) {
		_, repo, a, b := setup(t)
		repo.failOn["link"] = errBoom
		assertErrorIs(t, a.Associate(ctx, b), ErrRemoteCall)
		if a.IsLinked(b) {
			t.Error("expected no link")
		}
	})

	t.Run("pending nodes cannot link", func(t *testing.T) {
		_, _, a, _ := setup(t)
		p, err := a.Parent().CreateChild("I", "p")
		assertNoError(t, err)
		assertErrorIs(t, a.Associate(ctx, p), ErrNotCommitted)
	})

	t.Run("fresh session follows links", func(t *testing.T) {
		s, repo, a, b := setup(t)
		c := mustCommit(t, mustCommit(t, s.Root(), "F"), "I", "c")
		assertNoError(t, a.Associate(ctx, b))
		assertNoError(t, c.Associate(ctx, a))

		fresh := newTestStoreOn(t, repo, s.Registry())
		var got []*Node
		for n, err := range fresh.GetOIDs(ctx, []string{a.OID()}) {
			assertNoError(t, err)
			got = append(got, n)
		}
		if len(got) != 1 {
			t.Fatalf("expected a, got %v", got)
		}
		links, err := got[0].ListLinks(ctx)
		assertNoError(t, err)
		if len(links) != 2 || links[0].OID() != b.OID() || links[1].OID() != c.OID() {
			t.Errorf("expected [b c], got %v", links)
		}
		if links[1].Parent().Parent() != fresh.Root() {
			t.Error("expected linked node to arrive with its ancestors")
		}
	})
}

func TestLinksMirroredOnLoad(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)
	f := mustCommit(t, s.Root(), "F")
	a := mustCommit(t, f, "I", "a")
	b := mustCommit(t, f, "I", "b")

	other := newTestStoreOn(t, repo, s.Registry())
	got, err := other.collect(ctx, []string{b.OID()})
	assertNoError(t, err)
	if len(got) != 1 {
		t.Fatalf("expected b, got %v", got)
	}
	ob := got[0]

	assertNoError(t, a.Associate(ctx, b))
	got, err = other.collect(ctx, []string{a.OID()})
	assertNoError(t, err)
	if len(got) != 1 {
		t.Fatalf("expected a, got %v", got)
	}
	oa := got[0]

	t.Run("loaded association shows up as a reference", func(t *testing.T) {
		if refs := ob.ReferenceOIDs(); len(refs) != 1 || refs[0] != a.OID() {
			t.Fatalf("expected references [%s], got %v", a.OID(), refs)
		}
		refs, err := ob.ListReferences(ctx)
		assertNoError(t, err)
		assertNodes(t, []*Node{oa}, refs)
		if !ob.IsLinked(oa) {
			t.Error("expected the link to be visible from b")
		}
	})

	t.Run("reload drops stale far end", func(t *testing.T) {
		assertNoError(t, a.Disassociate(ctx, b))
		assertNoError(t, oa.Fetch(ctx, FetchOptions{MaxDepth: 0, Force: true}))

		if len(oa.AssociationOIDs()) != 0 {
			t.Errorf("expected no associations, got %v", oa.AssociationOIDs())
		}
		if len(ob.ReferenceOIDs()) != 0 {
			t.Errorf("expected stale reference to be removed, got %v", ob.ReferenceOIDs())
		}
		if ob.IsLinked(oa) || oa.IsLinked(ob) {
			t.Error("expected no link between a and b")
		}
	})
}

func TestUnresolvedLinksDropped(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	f := mustCommit(t, s.Root(), "F")

	loaded := s.LoadBatch([]repository.Record{
		{OID: "500", TypeID: "I", ParentOID: f.OID(), Data: []any{"ghost"}, Associations: []string{"999"}},
	}, false)
	if loaded != 1 {
		t.Fatalf("expected 1 record loaded, got %d", loaded)
	}

	assocs, err := s.GetOID("500").ListAssociations(ctx)
	assertNoError(t, err)
	if len(assocs) != 0 {
		t.Errorf("expected dangling association to be dropped, got %v", assocs)
	}
}

func TestGetOIDs(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)
	f := mustCommit(t, s.Root(), "F")
	i1 := mustCommit(t, f, "I", "i1")
	i2 := mustCommit(t, f, "I", "i2")

	fresh := newTestStoreOn(t, repo, s.Registry())
	fetches := repo.calls["fetch"]

	got, err := fresh.collect(ctx, []string{i2.OID(), "999", i1.OID()})
	assertNoError(t, err)
	if len(got) != 2 || got[0].OID() != i2.OID() || got[1].OID() != i1.OID() {
		t.Fatalf("expected [i2 i1], got %v", got)
	}
	if got[0].Parent().OID() != f.OID() {
		t.Error("expected parent chain to be mirrored")
	}
	if repo.calls["fetch"]-fetches != 1 {
		t.Errorf("expected a single batch fetch, got %d", repo.calls["fetch"]-fetches)
	}

	_, err = fresh.collect(ctx, []string{i1.OID(), i2.OID()})
	assertNoError(t, err)
	if repo.calls["fetch"]-fetches != 1 {
		t.Error("expected mirrored nodes to be served locally")
	}

	repo.failOn["fetch"] = errBoom
	_, err = fresh.collect(ctx, []string{"998"})
	assertErrorIs(t, err, ErrRemoteCall)
}

func TestGetOIDsFetchesOnce(t *testing.T) {
	ctx := context.Background()
	s, repo := newTestStore(t)
	i := mustCommit(t, mustCommit(t, s.Root(), "F"), "I", "i")

	t.Run("reiterating a sequence", func(t *testing.T) {
		fresh := newTestStoreOn(t, repo, s.Registry())
		fetches := repo.calls["fetch"]
		seq := fresh.GetOIDs(ctx, []string{i.OID(), "9999"})
		for pass := range 3 {
			var got []*Node
			for n, err := range seq {
				assertNoError(t, err)
				got = append(got, n)
			}
			if len(got) != 1 || got[0].OID() != i.OID() {
				t.Fatalf("pass %d: expected [i], got %v", pass, got)
			}
		}
		if repo.calls["fetch"]-fetches != 1 {
			t.Errorf("expected 1 fetch, got %d", repo.calls["fetch"]-fetches)
		}
	})

	t.Run("dangling links are not refetched", func(t *testing.T) {
		fresh := newTestStoreOn(t, repo, s.Registry())
		fresh.LoadBatch([]repository.Record{
			{OID: "600", TypeID: "F", ParentOID: fresh.Root().OID()},
			{OID: "601", TypeID: "I", ParentOID: "600", Data: []any{"ghost"}, Associations: []string{"9999"}},
		}, false)
		n := fresh.GetOID("601")
		if n == nil {
			t.Fatal("expected record 601 to load")
		}

		fetches := repo.calls["fetch"]
		for range 2 {
			assocs, err := n.ListAssociations(ctx)
			assertNoError(t, err)
			if len(assocs) != 0 {
				t.Errorf("expected no associations, got %v", assocs)
			}
		}
		if repo.calls["fetch"]-fetches != 1 {
			t.Errorf("expected 1 fetch, got %d", repo.calls["fetch"]-fetches)
		}
	})
}
