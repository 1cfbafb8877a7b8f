package chainmodel

import "github.com/shopspring/decimal"

// Transfer is a single ERC-20-style transfer event, already decoded into a
// signed, owner-scaled amount: the sender's record is negative, the
// receiver's is positive (spec §4.7).
type Transfer struct {
	Chain              string
	TokenAddress       string
	TokenDecimals      int32
	OwnerAddress       string
	BlockNumber        int64
	TransactionHash    string
	LogIndex           int64
	AmountTransferred  decimal.Decimal
}

// Key identifies the (token, owner, block) bucket that same-block in/out
// transfers are merged into (spec §4.7, §8 scenario 6).
type TransferKey struct {
	TokenAddress string
	OwnerAddress string
	BlockNumber  int64
}

func (t Transfer) Key() TransferKey {
	return TransferKey{TokenAddress: t.TokenAddress, OwnerAddress: t.OwnerAddress, BlockNumber: t.BlockNumber}
}

// MergeSameBlockTransfers nets same-block same-owner transfers for a single
// token into one record per (token, owner, block), taking the transaction
// hash from the transfer with the highest log index (spec §8 scenario 6).
func MergeSameBlockTransfers(transfers []Transfer) []Transfer {
	order := make([]TransferKey, 0, len(transfers))
	byKey := make(map[TransferKey]Transfer, len(transfers))

	for _, t := range transfers {
		k := t.Key()
		existing, ok := byKey[k]
		if !ok {
			byKey[k] = t
			order = append(order, k)
			continue
		}
		merged := existing
		merged.AmountTransferred = existing.AmountTransferred.Add(t.AmountTransferred)
		if t.LogIndex > existing.LogIndex {
			merged.TransactionHash = t.TransactionHash
			merged.LogIndex = t.LogIndex
		}
		byKey[k] = merged
	}

	out := make([]Transfer, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}
