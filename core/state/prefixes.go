package state

import (
	"encoding/hex"
	"fmt"
)

var (
	accountInitPrefix = []byte("accounts/init/")

	bankMintPrefix    = "bank/mint/%x"
	bankMintIndexKey  = []byte("bank/mints")
	bankBalancePrefix = "bank/balance/%x/%x"
	bankHolderPrefix  = "bank/holders/%x"

	ammPoolPrefix   = "amm/pool/%x"
	ammPoolIndexKey = []byte("amm/pools")

	lotteryManagerPrefix = "lottery/manager/%x"
	lotteryManagerIndex  = []byte("lottery/managers")
	lotteryTicketPrefix  = "lottery/ticket/%x"
	lotteryTicketIndex   = "lottery/tickets/%x"
	lotteryRequestPrefix = "lottery/request/%s"
	lotteryQuotaPrefix   = "lottery/quota/%x/%x"
)

// AccountInitKey marks an address as initialised. A second initialisation of
// the same address is an account collision.
func AccountInitKey(addr []byte) []byte {
	return append(append([]byte(nil), accountInitPrefix...), []byte(hex.EncodeToString(addr))...)
}

// BankMintKey stores the mint definition.
func BankMintKey(mint []byte) []byte { return []byte(fmt.Sprintf(bankMintPrefix, mint)) }

// BankMintIndexKey lists every registered mint.
func BankMintIndexKey() []byte { return append([]byte(nil), bankMintIndexKey...) }

// BankBalanceKey stores the balance of owner for mint.
func BankBalanceKey(mint, owner []byte) []byte {
	return []byte(fmt.Sprintf(bankBalancePrefix, mint, owner))
}

// BankHolderIndexKey lists every address that ever held mint.
func BankHolderIndexKey(mint []byte) []byte { return []byte(fmt.Sprintf(bankHolderPrefix, mint)) }

// AMMPoolKey stores a pool definition.
func AMMPoolKey(pool []byte) []byte { return []byte(fmt.Sprintf(ammPoolPrefix, pool)) }

// AMMPoolIndexKey lists every pool.
func AMMPoolIndexKey() []byte { return append([]byte(nil), ammPoolIndexKey...) }

// LotteryManagerKey stores a vault manager record.
func LotteryManagerKey(manager []byte) []byte {
	return []byte(fmt.Sprintf(lotteryManagerPrefix, manager))
}

// LotteryManagerIndexKey lists every vault manager.
func LotteryManagerIndexKey() []byte { return append([]byte(nil), lotteryManagerIndex...) }

// LotteryTicketKey stores a ticket record.
func LotteryTicketKey(ticket []byte) []byte { return []byte(fmt.Sprintf(lotteryTicketPrefix, ticket)) }

// LotteryTicketIndexKey lists the ticket addresses sold by a vault manager.
func LotteryTicketIndexKey(manager []byte) []byte {
	return []byte(fmt.Sprintf(lotteryTicketIndex, manager))
}

// LotteryRequestKey maps a randomness request handle to its vault manager.
func LotteryRequestKey(handle string) []byte {
	return []byte(fmt.Sprintf(lotteryRequestPrefix, handle))
}

// LotteryQuotaKey stores the per-epoch purchase counters of buyer.
func LotteryQuotaKey(manager, buyer []byte) []byte {
	return []byte(fmt.Sprintf(lotteryQuotaPrefix, manager, buyer))
}
