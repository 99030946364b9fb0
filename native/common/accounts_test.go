package common

import (
	"errors"
	"testing"

	"lotterychain/core/state"
	"lotterychain/crypto"
	"lotterychain/storage"
)

func TestInitAccountCollision(t *testing.T) {
	store := state.NewManager(storage.NewMemDB())
	addr := crypto.ProgramID("account")

	if err := InitAccount(store, addr, "lottery"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := InitAccount(store, addr, "bank"); !errors.Is(err, ErrAccountInUse) {
		t.Fatalf("expected ErrAccountInUse, got %v", err)
	}
	owner, ok, err := AccountOwner(store, addr)
	if err != nil || !ok || owner != "lottery" {
		t.Fatalf("unexpected owner %q ok=%v err=%v", owner, ok, err)
	}
	if _, ok, _ := AccountOwner(store, crypto.ProgramID("other")); ok {
		t.Fatalf("expected unknown account")
	}
}
