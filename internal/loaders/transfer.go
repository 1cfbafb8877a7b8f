package loaders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prevostc/beefy-bi/internal/chainmodel"
	"github.com/prevostc/beefy-bi/internal/rangeset"
	"github.com/prevostc/beefy-bi/internal/rpcadapter"
	"github.com/prevostc/beefy-bi/internal/rpcgate"
	"github.com/prevostc/beefy-bi/internal/stream"
)

// TransferEventTopic is keccak256("Transfer(address,address,uint256)"),
// the ERC-20 Transfer event signature.
const TransferEventTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// TransferJob is one planner-produced work item: a product and the block
// range to fetch transfers for.
type TransferJob struct {
	Product chainmodel.Product
	Range   rangeset.Range
}

// TransferQuery is the eth_getLogs filter for one TransferJob. When
// TrackAddress is set, spec §4.7 calls for "two filters combined" (the
// address appearing as sender or as receiver).
type TransferQuery struct {
	Chain           string
	ContractAddress string
	TokenDecimals   int32
	FromBlock       int64
	ToBlock         int64
	TrackAddress    string
}

type rawLog struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        string   `json:"logIndex"`
}

func transferFilterParams(q TransferQuery, topics []any) map[string]any {
	return map[string]any{
		"address":   q.ContractAddress,
		"fromBlock": hexQuantity(q.FromBlock),
		"toBlock":   hexQuantity(q.ToBlock),
		"topics":    topics,
	}
}

func decodeTransferLogs(raw json.RawMessage, chain string, decimals int32) ([]chainmodel.Transfer, error) {
	var logs []rawLog
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("decode eth_getLogs result: %w", err)
	}

	out := make([]chainmodel.Transfer, 0, len(logs)*2)
	for _, l := range logs {
		if len(l.Topics) < 3 {
			continue
		}
		from := topicToAddress(l.Topics[1])
		to := topicToAddress(l.Topics[2])

		value, err := parseHexBigInt(l.Data)
		if err != nil {
			return nil, err
		}
		blockNumber, err := parseHexQuantity(l.BlockNumber)
		if err != nil {
			return nil, err
		}
		logIndex, err := parseHexQuantity(l.LogIndex)
		if err != nil {
			return nil, err
		}

		amount := decimalFromBigInt(value).Shift(-decimals)

		out = append(out,
			chainmodel.Transfer{
				Chain: chain, TokenAddress: l.Address, TokenDecimals: decimals,
				OwnerAddress: from, BlockNumber: blockNumber,
				TransactionHash: l.TransactionHash, LogIndex: logIndex,
				AmountTransferred: amount.Neg(),
			},
			chainmodel.Transfer{
				Chain: chain, TokenAddress: l.Address, TokenDecimals: decimals,
				OwnerAddress: to, BlockNumber: blockNumber,
				TransactionHash: l.TransactionHash, LogIndex: logIndex,
				AmountTransferred: amount,
			},
		)
	}
	return out, nil
}

// ProcessTransferBatch is the ProcessBatch function for the transfer
// fetcher's batch-RPC operator. For a tracked address it issues two
// eth_getLogs calls (sender-filtered, receiver-filtered) and merges their
// decoded results; same-block same-owner in/out nets to a single record
// via chainmodel.MergeSameBlockTransfers (spec §8 scenario 6).
func ProcessTransferBatch(ctx context.Context, transport rpcadapter.Transport, queries []TransferQuery) (map[TransferQuery][]chainmodel.Transfer, error) {
	type plan struct {
		query       TransferQuery
		primaryID   int64
		secondaryID int64 // -1 when TrackAddress is unset
	}

	var reqs []rpcadapter.Request
	var plans []plan
	var nextID int64

	for _, q := range queries {
		if q.TrackAddress == "" {
			id := nextID
			nextID++
			reqs = append(reqs, rpcadapter.Request{
				Method: "eth_getLogs",
				Params: []any{transferFilterParams(q, []any{TransferEventTopic})},
				ID:     id,
			})
			plans = append(plans, plan{query: q, primaryID: id, secondaryID: -1})
			continue
		}

		owner := padHexTo64(q.TrackAddress)
		idFrom := nextID
		nextID++
		reqs = append(reqs, rpcadapter.Request{
			Method: "eth_getLogs",
			Params: []any{transferFilterParams(q, []any{TransferEventTopic, owner, nil})},
			ID:     idFrom,
		})
		idTo := nextID
		nextID++
		reqs = append(reqs, rpcadapter.Request{
			Method: "eth_getLogs",
			Params: []any{transferFilterParams(q, []any{TransferEventTopic, nil, owner})},
			ID:     idTo,
		})
		plans = append(plans, plan{query: q, primaryID: idFrom, secondaryID: idTo})
	}

	responses := transport.CallBatch(ctx, reqs)
	byID := make(map[int64]rpcadapter.Response, len(responses))
	for _, r := range responses {
		byID[r.ID] = r
	}

	out := make(map[TransferQuery][]chainmodel.Transfer, len(queries))
	for _, p := range plans {
		r, ok := byID[p.primaryID]
		if !ok {
			return nil, fmt.Errorf("%w: eth_getLogs request %d", rpcadapter.ErrMissingBatchResult, p.primaryID)
		}
		if r.Err != nil {
			return nil, r.Err
		}
		raw, ok := r.Result.(json.RawMessage)
		if !ok {
			return nil, fmt.Errorf("loaders: unexpected eth_getLogs result type %T", r.Result)
		}
		transfers, err := decodeTransferLogs(raw, p.query.Chain, p.query.TokenDecimals)
		if err != nil {
			return nil, err
		}

		if p.secondaryID >= 0 {
			r2, ok := byID[p.secondaryID]
			if !ok {
				return nil, fmt.Errorf("%w: eth_getLogs request %d", rpcadapter.ErrMissingBatchResult, p.secondaryID)
			}
			if r2.Err != nil {
				return nil, r2.Err
			}
			raw2, ok := r2.Result.(json.RawMessage)
			if !ok {
				return nil, fmt.Errorf("loaders: unexpected eth_getLogs result type %T", r2.Result)
			}
			more, err := decodeTransferLogs(raw2, p.query.Chain, p.query.TokenDecimals)
			if err != nil {
				return nil, err
			}
			transfers = append(transfers, more...)
		}

		out[p.query] = chainmodel.MergeSameBlockTransfers(transfers)
	}
	return out, nil
}

// TransferResult pairs a completed TransferJob with its decoded transfers,
// so a downstream consumer (internal/pipeline) can attribute output back
// to the range that produced it.
type TransferResult struct {
	Job       TransferJob
	Transfers []chainmodel.Transfer
}

// NewTransferFetcher builds the transfer fetcher (spec §4.7): a
// batch-RPC operator that turns each job into one eth_getLogs query on the
// product's token contract over the job's block range, fetching and
// decoding ERC-20 Transfer logs. Jobs are grouped into batches by arrival
// and capacity only, not by filter; GetQuery never sets TrackAddress, so
// the sender/receiver-filtered path of ProcessTransferBatch is not used here.
func NewTransferFetcher(gate *rpcgate.Gate, endpoint rpcadapter.Endpoint, cfg Config, emitErrors func(TransferJob, error)) func(context.Context, stream.Stream[TransferJob]) stream.Stream[TransferResult] {
	batchCfg := stream.BatchRPCConfig[TransferJob, TransferQuery, []chainmodel.Transfer]{
		GetQuery: func(job TransferJob) TransferQuery {
			return TransferQuery{
				Chain:           job.Product.Chain,
				ContractAddress: job.Product.Data.TokenAddress,
				TokenDecimals:   job.Product.Data.TokenDecimals,
				FromBlock:       job.Range.From,
				ToBlock:         job.Range.To,
			}
		},
		ProcessBatch:         ProcessTransferBatch,
		RPCCallsPerInputObj:  map[string]int{"eth_getLogs": 1},
		Gate:                 gate,
		Endpoint:             endpoint,
		MaxInputWaitMs:       time.Duration(cfg.MaxInputWaitMsDuration) * time.Millisecond,
		MaxInputObjsPerBatch: cfg.MaxInputObjsPerBatch,
		MaxTotalRetryMs:      cfg.MaxTotalRetryMs,
		FormatOutput: func(job TransferJob, result []chainmodel.Transfer) any {
			return TransferResult{Job: job, Transfers: result}
		},
		EmitErrors: emitErrors,
	}

	return func(ctx context.Context, in stream.Stream[TransferJob]) stream.Stream[TransferResult] {
		return stream.Typed[TransferResult](stream.BatchRPC(ctx, in, batchCfg))
	}
}
