package lottery

import (
	"lotterychain/crypto"
)

// ModuleName identifies the lottery in pause flags and account markers.
const ModuleName = "lottery"

// ProgramID is the identity every lottery account is derived under.
var ProgramID = crypto.ProgramID("lotterychain/native/lottery")

// VaultAddress derives the custody account for mint. It depends on the mint
// alone so anyone can locate it.
func VaultAddress(mint crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{mint[:]}, ProgramID)
}

// ManagerAddress derives the vault manager from its mints and vaults.
func ManagerAddress(depositMint, yieldMint, depositVault, yieldVault crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{depositMint[:], yieldMint[:], depositVault[:], yieldVault[:]}, ProgramID)
}

// CollectionAddress derives the mint grouping every ticket of a manager.
func CollectionAddress(depositMint, yieldMint, depositVault, yieldVault, manager crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{depositMint[:], yieldMint[:], depositVault[:], yieldVault[:], manager[:]}, ProgramID)
}

// TicketAddress derives the ticket account for numbers under manager.
func TicketAddress(numbers Numbers, manager crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress(ticketSeeds(numbers, manager), ProgramID)
}

func ticketSeeds(numbers Numbers, manager crypto.Address) [][]byte {
	return [][]byte{numbers[:], manager[:]}
}

// OwnershipMintAddress derives the one-of-one mint whose holder owns ticket.
func OwnershipMintAddress(ticket, collection crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress([][]byte{ticket[:], collection[:]}, ProgramID)
}

// Addresses bundles every account of one lottery instance.
type Addresses struct {
	DepositVault     crypto.Address
	DepositVaultBump uint8
	YieldVault       crypto.Address
	YieldVaultBump   uint8
	Manager          crypto.Address
	ManagerBump      uint8
	Collection       crypto.Address
	CollectionBump   uint8
}

// DeriveAddresses computes the full account set for a mint pair.
func DeriveAddresses(depositMint, yieldMint crypto.Address) (*Addresses, error) {
	var (
		out Addresses
		err error
	)
	if out.DepositVault, out.DepositVaultBump, err = VaultAddress(depositMint); err != nil {
		return nil, err
	}
	if out.YieldVault, out.YieldVaultBump, err = VaultAddress(yieldMint); err != nil {
		return nil, err
	}
	if out.Manager, out.ManagerBump, err = ManagerAddress(depositMint, yieldMint, out.DepositVault, out.YieldVault); err != nil {
		return nil, err
	}
	if out.Collection, out.CollectionBump, err = CollectionAddress(depositMint, yieldMint, out.DepositVault, out.YieldVault, out.Manager); err != nil {
		return nil, err
	}
	return &out, nil
}
