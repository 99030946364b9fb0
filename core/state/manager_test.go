package state

import (
	"errors"
	"math/big"
	"testing"

	"lotterychain/storage"
)

type record struct {
	Name   string
	Amount *big.Int
	Flag   bool
}

func TestKVPutGet(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())

	var missing record
	ok, err := mgr.KVGet([]byte("rec"), &missing)
	if err != nil || ok {
		t.Fatalf("expected missing record, got ok=%v err=%v", ok, err)
	}
	if err := mgr.KVPut([]byte("rec"), &record{Name: "a", Amount: big.NewInt(7), Flag: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got record
	ok, err = mgr.KVGet([]byte("rec"), &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Name != "a" || got.Amount.Int64() != 7 || !got.Flag {
		t.Fatalf("unexpected record %+v", got)
	}
	if err := mgr.KVDelete([]byte("rec")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVHas([]byte("rec")); ok {
		t.Fatalf("expected record removed")
	}
	if err := mgr.KVPut(nil, 1); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	var empty [][]byte
	if err := mgr.KVGetList([]byte("idx"), &empty); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list")
	}
	for _, v := range []string{"x", "y", "x"} {
		if err := mgr.KVAppend([]byte("idx"), []byte(v)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var list [][]byte
	if err := mgr.KVGetList([]byte("idx"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 || string(list[0]) != "x" || string(list[1]) != "y" {
		t.Fatalf("unexpected list %q", list)
	}
}

func TestIndexAppendKeepsOrderAndLength(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := []byte("tickets")
	if n, err := mgr.IndexLen(key); err != nil || n != 0 {
		t.Fatalf("expected empty index, got %d (%v)", n, err)
	}
	for i, v := range []string{"a", "b", "c"} {
		pos, err := mgr.IndexAppend(key, []byte(v))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if pos != uint64(i) {
			t.Fatalf("append %q landed at %d", v, pos)
		}
	}

	snap := mgr.Snapshot()
	if _, err := mgr.IndexAppend(key, []byte("d")); err != nil {
		t.Fatalf("append: %v", err)
	}
	mgr.RevertToSnapshot(snap)

	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	n, err := mgr.IndexLen(key)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 elements after revert, got %d (%v)", n, err)
	}
	items, err := mgr.IndexItems(key)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 3 || string(items[0]) != "a" || string(items[2]) != "c" {
		t.Fatalf("unexpected items %q", items)
	}
	if other, err := mgr.IndexItems([]byte("other")); err != nil || len(other) != 0 {
		t.Fatalf("unrelated index should be empty, got %q (%v)", other, err)
	}
	if _, err := mgr.IndexAppend(nil, []byte("x")); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestSnapshotRevert(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	if err := mgr.KVPut([]byte("a"), uint64(1)); err != nil {
		t.Fatalf("put: %v", err)
	}
	snap := mgr.Snapshot()
	if err := mgr.KVPut([]byte("a"), uint64(2)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.KVPut([]byte("b"), uint64(3)); err != nil {
		t.Fatalf("put: %v", err)
	}
	mgr.RevertToSnapshot(snap)

	var a uint64
	if ok, err := mgr.KVGet([]byte("a"), &a); err != nil || !ok || a != 1 {
		t.Fatalf("expected a=1 after revert, got %d ok=%v err=%v", a, ok, err)
	}
	if ok, _ := mgr.KVHas([]byte("b")); ok {
		t.Fatalf("expected b reverted")
	}
}

func TestAtomicRevertsOnError(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	boom := errors.New("boom")
	err := mgr.Atomic(func() error {
		if err := mgr.KVPut([]byte("k"), uint64(9)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ok, _ := mgr.KVHas([]byte("k")); ok {
		t.Fatalf("expected write reverted")
	}
	if mgr.Pending() != 0 {
		t.Fatalf("expected no pending writes, got %d", mgr.Pending())
	}
}

func TestCommitPersists(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("persist"), "value"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("writes must stay in the overlay until commit")
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if mgr.Pending() != 0 {
		t.Fatalf("expected overlay cleared")
	}

	reopened := NewManager(db)
	var got string
	if ok, err := reopened.KVGet([]byte("persist"), &got); err != nil || !ok || got != "value" {
		t.Fatalf("expected persisted value, got %q ok=%v err=%v", got, ok, err)
	}

	if err := reopened.KVDelete([]byte("persist")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := reopened.Commit(); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	if db.Len() != 0 {
		t.Fatalf("expected key removed from database")
	}
}

func TestKeyNamespaces(t *testing.T) {
	if string(LotteryManagerKey([]byte{0xaa})) != "lottery/manager/aa" {
		t.Fatalf("unexpected manager key %s", LotteryManagerKey([]byte{0xaa}))
	}
	if string(BankBalanceKey([]byte{0x01}, []byte{0x02})) != "bank/balance/01/02" {
		t.Fatalf("unexpected balance key %s", BankBalanceKey([]byte{0x01}, []byte{0x02}))
	}
	if string(AccountInitKey([]byte{0x0f})) != "accounts/init/0f" {
		t.Fatalf("unexpected init key %s", AccountInitKey([]byte{0x0f}))
	}
	if string(LotteryRequestKey("abc")) != "lottery/request/abc" {
		t.Fatalf("unexpected request key")
	}
}
