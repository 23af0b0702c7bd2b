package index

import (
	"path/filepath"
	"testing"

	"github.com/bobboyms/tsdb/pkg/types"
)

func primaryPaths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "pk.idx"), filepath.Join(dir, "pk_log.idx")
}

func TestPrimarySetGetDelete(t *testing.T) {
	snap, log := primaryPaths(t)

	p, err := OpenPrimary(snap, log)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Set("a", OffsetPair{TS: 4, Meta: 0}); err != nil {
		t.Fatal(err)
	}
	if err := p.Set("b", OffsetPair{TS: 100, Meta: 32}); err != nil {
		t.Fatal(err)
	}

	pair, ok := p.Get("a")
	if !ok || pair.TS != 4 {
		t.Errorf("Get(a) = %+v, %v", pair, ok)
	}
	if !p.Has("b") || p.Has("c") {
		t.Error("membership checks wrong")
	}

	keys := p.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v", keys)
	}

	if err := p.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if p.Has("a") {
		t.Error("deleted pk still present")
	}
}

func TestPrimaryPersistsAcrossReopen(t *testing.T) {
	snap, log := primaryPaths(t)

	p, err := OpenPrimary(snap, log)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Set("a", OffsetPair{TS: 4, Meta: 8}); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	p2, err := OpenPrimary(snap, log)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()

	pair, ok := p2.Get("a")
	if !ok || pair.TS != 4 || pair.Meta != 8 {
		t.Errorf("state lost across reopen: %+v, %v", pair, ok)
	}
}

func TestPrimaryReplaysUncommittedLog(t *testing.T) {
	snap, logP := primaryPaths(t)

	p, err := OpenPrimary(snap, logP)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Set("committed", OffsetPair{TS: 1, Meta: 1}); err != nil {
		t.Fatal(err)
	}
	if err := p.Commit(); err != nil {
		t.Fatal(err)
	}
	// mutations after the commit sit only in the log
	if err := p.Set("pending", OffsetPair{TS: 2, Meta: 2}); err != nil {
		t.Fatal(err)
	}
	if err := p.Delete("committed"); err != nil {
		t.Fatal(err)
	}
	// simulate a crash: no Commit, no Close — just drop the writer
	p.log.writer.Sync()
	p.log.writer.Close()

	p2, err := OpenPrimary(snap, logP)
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()

	if !p2.Has("pending") {
		t.Error("pending mutation lost on crash recovery")
	}
	if p2.Has("committed") {
		t.Error("logged delete not replayed on crash recovery")
	}
}

func TestOrderedAddLookupRemove(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenOrdered(filepath.Join(dir, "f.idx"), filepath.Join(dir, "f_log.idx"), types.TypeInt)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if err := idx.AddPK(3, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(3, "b"); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(7, "c"); err != nil {
		t.Fatal(err)
	}

	set, err := idx.Lookup(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 2 {
		t.Errorf("Lookup(3) = %v", set)
	}

	keys := idx.Keys()
	if len(keys) != 2 || keys[0].Compare(types.IntKey(3)) != 0 {
		t.Errorf("Keys() = %v", keys)
	}

	// the key disappears with its last pk
	if err := idx.RemovePK(3, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.RemovePK(3, "b"); err != nil {
		t.Fatal(err)
	}
	set, err = idx.Lookup(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 0 {
		t.Errorf("expected empty set after removals, got %v", set)
	}
	if len(idx.Keys()) != 1 {
		t.Errorf("empty key should vanish, keys = %v", idx.Keys())
	}
}

func TestOrderedPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "f.idx")
	log := filepath.Join(dir, "f_log.idx")

	idx, err := OpenOrdered(snap, log, types.TypeFloat)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(1.5, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(2.5, "b"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx2, err := OpenOrdered(snap, log, types.TypeFloat)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()

	set, err := idx2.Lookup(2.5)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set["b"]; !ok {
		t.Errorf("state lost across reopen: %v", set)
	}
}

func TestBitmapAddLookup(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenBitmap(
		filepath.Join(dir, "vp.idx"),
		filepath.Join(dir, "vp_log.idx"),
		filepath.Join(dir, "vp_pks.idx"),
		types.TypeBool, []any{false, true})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	for _, pk := range []string{"a", "b", "c"} {
		if err := idx.AddPK(false, pk); err != nil {
			t.Fatal(err)
		}
	}
	if err := idx.AddPK(true, "b"); err != nil { // rewrite b's column
		t.Fatal(err)
	}

	trueSet, err := idx.Lookup(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(trueSet) != 1 {
		t.Errorf("Lookup(true) = %v", trueSet)
	}
	if _, ok := trueSet["b"]; !ok {
		t.Errorf("b missing from true column: %v", trueSet)
	}

	falseSet, err := idx.Lookup(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(falseSet) != 2 {
		t.Errorf("Lookup(false) = %v", falseSet)
	}
}

func TestBitmapRemoveShiftsPositions(t *testing.T) {
	dir := t.TempDir()

	idx, err := OpenBitmap(
		filepath.Join(dir, "f.idx"),
		filepath.Join(dir, "f_log.idx"),
		filepath.Join(dir, "f_pks.idx"),
		types.TypeInt, []any{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	if err := idx.AddPK(1, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(2, "b"); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(3, "c"); err != nil {
		t.Fatal(err)
	}

	// removing the middle column shifts c down by one
	if err := idx.RemovePK(2, "b"); err != nil {
		t.Fatal(err)
	}

	positions := idx.Positions()
	if len(positions) != 2 {
		t.Fatalf("Positions() = %v", positions)
	}
	if positions["c"] != 1 {
		t.Errorf("expected c at position 1 after shift, got %d", positions["c"])
	}

	set, err := idx.Lookup(3)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set["c"]; !ok || len(set) != 1 {
		t.Errorf("Lookup(3) after shift = %v", set)
	}
	set, err = idx.Lookup(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(set) != 0 {
		t.Errorf("Lookup(2) should be empty after removal, got %v", set)
	}
}

func TestBitmapPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "vp.idx")
	log := filepath.Join(dir, "vp_log.idx")
	pks := filepath.Join(dir, "vp_pks.idx")

	idx, err := OpenBitmap(snap, log, pks, types.TypeBool, []any{false, true})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(true, "a"); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddPK(false, "b"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	idx2, err := OpenBitmap(snap, log, pks, types.TypeBool, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()

	set, err := idx2.Lookup(true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := set["a"]; !ok || len(set) != 1 {
		t.Errorf("state lost across reopen: %v", set)
	}
}

func TestTriggersRegistry(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "triggers.idx")
	log := filepath.Join(dir, "triggers_log.idx")

	reg, err := OpenTriggers(snap, log)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.Add("insert_ts", TriggerSpec{Proc: "stats", Targets: []string{"mean", "std"}}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add("insert_ts", TriggerSpec{Proc: "corr", Targets: []string{"d_vp_a"}}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Add("insert_ts", TriggerSpec{Proc: "corr", Targets: []string{"d_vp_b"}}); err != nil {
		t.Fatal(err)
	}

	if got := len(reg.List("insert_ts")); got != 3 {
		t.Fatalf("expected 3 registrations, got %d", got)
	}

	// exact-target removal keeps the other corr instance
	if err := reg.RemoveOne("insert_ts", "corr", []string{"d_vp_a"}); err != nil {
		t.Fatal(err)
	}
	specs := reg.List("insert_ts")
	if len(specs) != 2 {
		t.Fatalf("expected 2 after RemoveOne, got %d", len(specs))
	}
	for _, spec := range specs {
		if spec.Proc == "corr" && spec.Targets[0] == "d_vp_a" {
			t.Error("RemoveOne removed the wrong instance")
		}
	}

	if err := reg.RemoveAll("insert_ts", "corr"); err != nil {
		t.Fatal(err)
	}
	if err := reg.RemoveAll("insert_ts", "corr"); err == nil {
		t.Error("expected error removing a proc with no registrations")
	}

	if err := reg.Close(); err != nil {
		t.Fatal(err)
	}

	// survives reopen
	reg2, err := OpenTriggers(snap, log)
	if err != nil {
		t.Fatal(err)
	}
	defer reg2.Close()

	specs = reg2.List("insert_ts")
	if len(specs) != 1 || specs[0].Proc != "stats" {
		t.Errorf("registry lost across reopen: %+v", specs)
	}
	if specs[0].Targets[1] != "std" {
		t.Errorf("targets lost: %+v", specs[0])
	}
}
