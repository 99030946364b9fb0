package common

import (
	"errors"
	"fmt"

	"lotterychain/core/state"
	"lotterychain/crypto"
)

// ErrAccountInUse is returned when an address has already been initialised.
var ErrAccountInUse = errors.New("account already in use")

// AccountStore is the subset of the state manager needed to track account
// initialisation.
type AccountStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type accountMarker struct {
	Owner string
}

// InitAccount claims addr for owner. Claiming an address twice fails with
// ErrAccountInUse, which makes derived addresses behave like unique keys.
func InitAccount(store AccountStore, addr crypto.Address, owner string) error {
	if store == nil {
		return fmt.Errorf("accounts: store not configured")
	}
	key := state.AccountInitKey(addr[:])
	exists, err := store.KVGet(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	return store.KVPut(key, &accountMarker{Owner: owner})
}

// AccountOwner returns the module that initialised addr.
func AccountOwner(store AccountStore, addr crypto.Address) (string, bool, error) {
	if store == nil {
		return "", false, fmt.Errorf("accounts: store not configured")
	}
	var marker accountMarker
	ok, err := store.KVGet(state.AccountInitKey(addr[:]), &marker)
	if err != nil || !ok {
		return "", false, err
	}
	return marker.Owner, true, nil
}
