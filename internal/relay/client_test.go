package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixerSync/internal/model"
)

const (
	rewardAccount = "0x1111111111111111111111111111111111111111"
	jobTxHash     = "0x4c1b3f6a0a3c8e1a0f2c7d9b8e6a5d4c3b2a1908f7e6d5c4b3a29180f7e6d5c4"
)

type fakeRelay struct {
	mu sync.Mutex

	netID    string
	notReady int
	pending  int // -1 never resolves
	final    model.JobStatus
	reason   string
	// txHash overrides jobTxHash in the final job document.
	txHash *string

	submitted []submitRequest
	polls     int
}

func (f *fakeRelay) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"rewardAccount":%q,"netId":%s,"ethPrices":{"dai":"599954321052631"},"tornadoServiceFee":0.05}`,
			rewardAccount, f.netID)
	}).Methods(http.MethodGet)
	r.HandleFunc("/v1/tornadoWithdraw", func(w http.ResponseWriter, req *http.Request) {
		var body submitRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.submitted = append(f.submitted, body)
		f.mu.Unlock()
		fmt.Fprint(w, `{"id":"job-1"}`)
	}).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		f.polls++
		polls := f.polls
		f.mu.Unlock()

		if polls <= f.notReady {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if f.pending < 0 || polls <= f.notReady+f.pending {
			fmt.Fprint(w, `{"status":"PENDING","confirmations":0}`)
			return
		}
		txHash := jobTxHash
		if f.txHash != nil {
			txHash = *f.txHash
		}
		fmt.Fprintf(w, `{"status":%q,"txHash":%q,"confirmations":1,"failedReason":%q}`, f.final, txHash, f.reason)
	}).Methods(http.MethodGet)
	return r
}

func (f *fakeRelay) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeProver struct {
	fees []*big.Int
}

func (p *fakeProver) Prove(_ context.Context, input ProofInput) (Proof, error) {
	p.fees = append(p.fees, new(big.Int).Set(input.Fee))
	return Proof{
		Proof: "0x" + strings.Repeat("00", 256),
		Args:  []string{input.Root.String(), input.NullifierHash.String(), input.Recipient.Hex(), input.Relayer.Hex(), input.Fee.String(), input.Refund.String()},
	}, nil
}

type fakeOracle struct {
	fee   *big.Int
	query FeeQuery
}

func (o *fakeOracle) WithdrawalFee(_ context.Context, query FeeQuery) (*big.Int, error) {
	o.query = query
	return o.fee, nil
}

type fakeReceipts struct {
	mu       sync.Mutex
	mined    bool
	reverted bool
	lookups  int
}

func (r *fakeReceipts) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if !r.mined {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if r.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, BlockNumber: big.NewInt(42)}, nil
}

// tick keeps advancing the mock clock until the returned stop is called.
func tick(mock *clock.Mock, step time.Duration) func() {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				mock.Add(step)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return func() { close(done) }
}

type harness struct {
	relay    *fakeRelay
	prover   *fakeProver
	oracle   *fakeOracle
	receipts *fakeReceipts
	client   *Client
}

func newHarness(t *testing.T, relay *fakeRelay, cfg Config) *harness {
	t.Helper()
	server := httptest.NewServer(relay.router())
	t.Cleanup(server.Close)

	mock := clock.NewMock()
	t.Cleanup(tick(mock, time.Second))

	h := &harness{
		relay:    relay,
		prover:   &fakeProver{},
		oracle:   &fakeOracle{fee: big.NewInt(2_000_000_000_000_000)},
		receipts: &fakeReceipts{mined: true},
	}
	client, err := NewClient(server.URL+"/some/path", cfg, Deps{
		Prover:   h.prover,
		Oracle:   h.oracle,
		Receipts: h.receipts,
		Clock:    mock,
	})
	require.NoError(t, err)
	h.client = client
	return h
}

func withdrawRequest(netID uint64) WithdrawRequest {
	return WithdrawRequest{
		NetID:         netID,
		Instance:      common.HexToAddress("0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc"),
		Proxy:         common.HexToAddress("0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b"),
		Currency:      "eth",
		Amount:        "0.1",
		Decimals:      18,
		Native:        true,
		Recipient:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Root:          big.NewInt(12345),
		NullifierHash: big.NewInt(678),
		Nullifier:     big.NewInt(1),
		Secret:        big.NewInt(2),
		PathElements:  []*big.Int{big.NewInt(3)},
		PathIndices:   []int{0},
	}
}

func TestWithdrawPollsUntilConfirmed(t *testing.T) {
	relay := &fakeRelay{netID: "5", notReady: 1, pending: 3, final: model.JobConfirmed}
	h := newHarness(t, relay, Config{})

	result, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
	require.NoError(t, err)

	assert.Equal(t, 5, result.Polls)
	assert.Equal(t, 5, relay.pollCount())
	assert.Equal(t, common.HexToHash(jobTxHash), result.TxHash)
	assert.Equal(t, uint64(42), result.BlockNumber)
	assert.Equal(t, "50000000000000", result.RelayerFee.String())
	assert.Equal(t, "2000000000000000", result.TotalFee.String())
	assert.Equal(t, "98000000000000000", result.ToReceive.String())

	require.Len(t, h.prover.fees, 2)
	assert.Equal(t, "50000000000000", h.prover.fees[0].String())
	assert.Equal(t, "2000000000000000", h.prover.fees[1].String())

	assert.Equal(t, common.HexToAddress("0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b"), h.oracle.query.Tx.To)
	assert.NotEmpty(t, h.oracle.query.Tx.Data)

	require.Len(t, relay.submitted, 1)
	assert.Equal(t, "0x12D66f87A04A9E220743712cE6d9bB1B5616B8Fc", relay.submitted[0].Contract)
	assert.Equal(t, "2000000000000000", relay.submitted[0].Args[4])
	assert.Equal(t, common.HexToAddress(rewardAccount).Hex(), relay.submitted[0].Args[3])
}

func TestWithdrawRelayFailure(t *testing.T) {
	relay := &fakeRelay{netID: "5", pending: 1, final: model.JobFailed, reason: "Relayer balance is too low"}
	h := newHarness(t, relay, Config{})

	result, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRelayRejected))
	assert.Contains(t, err.Error(), "Relayer balance is too low")
	assert.Equal(t, 2, result.Polls)
	assert.Equal(t, 0, h.receipts.lookups)
}

func TestWithdrawNetworkMismatch(t *testing.T) {
	relay := &fakeRelay{netID: "1", final: model.JobConfirmed}
	h := newHarness(t, relay, Config{})

	_, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRelayNetworkMismatch))
	assert.Empty(t, relay.submitted)
	assert.Empty(t, h.prover.fees)
	assert.Equal(t, 0, relay.pollCount())
}

func TestWithdrawAcceptsAnyNetwork(t *testing.T) {
	relay := &fakeRelay{netID: `"*"`, final: model.JobConfirmed}
	h := newHarness(t, relay, Config{})

	result, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Polls)
}

func TestWithdrawReceiptTimeout(t *testing.T) {
	relay := &fakeRelay{netID: "5", final: model.JobConfirmed}
	h := newHarness(t, relay, Config{ReceiptAttempts: 3})
	h.receipts.mined = false

	result, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrReceiptTimeout))
	assert.Equal(t, 3, h.receipts.lookups)
	assert.Equal(t, "job-1", result.JobID)
}

func TestWithdrawRevertedTransaction(t *testing.T) {
	relay := &fakeRelay{netID: "5", final: model.JobConfirmed}
	h := newHarness(t, relay, Config{ReceiptAttempts: 3})
	h.receipts.reverted = true

	result, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRelayRejected))
	assert.Contains(t, err.Error(), "reverted")
	assert.Equal(t, 1, h.receipts.lookups)
	assert.Equal(t, common.HexToHash(jobTxHash), result.TxHash)
}

func TestWithdrawConfirmedWithoutTxHash(t *testing.T) {
	for _, txHash := range []string{"", "0xabc", "not-a-hash"} {
		t.Run(txHash, func(t *testing.T) {
			relay := &fakeRelay{netID: "5", final: model.JobConfirmed, txHash: &txHash}
			h := newHarness(t, relay, Config{})

			result, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrRelayRejected))
			assert.False(t, errors.Is(err, model.ErrReceiptTimeout))
			assert.Equal(t, 0, h.receipts.lookups)
			assert.Equal(t, "job-1", result.JobID)
			assert.Equal(t, common.Hash{}, result.TxHash)
		})
	}
}

func TestWithdrawRejectsRefundForNativeCurrency(t *testing.T) {
	relay := &fakeRelay{netID: "5", final: model.JobConfirmed}
	h := newHarness(t, relay, Config{})

	req := withdrawRequest(5)
	req.Refund = big.NewInt(1)
	_, err := h.client.Withdraw(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refund")
	assert.Empty(t, relay.submitted)
}

func TestWithdrawFeeAboveAmount(t *testing.T) {
	relay := &fakeRelay{netID: "5", final: model.JobConfirmed}
	h := newHarness(t, relay, Config{})
	h.oracle.fee = big.NewInt(0).Mul(big.NewInt(2), big.NewInt(1e17))

	_, err := h.client.Withdraw(context.Background(), withdrawRequest(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Empty(t, relay.submitted)
}

func TestWaitForJobDeadline(t *testing.T) {
	relay := &fakeRelay{netID: "5", pending: -1}
	h := newHarness(t, relay, Config{PollTimeout: 10 * time.Second})

	_, polls, err := h.client.WaitForJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, polls, 1)
}

func TestWaitForJobCancelled(t *testing.T) {
	relay := &fakeRelay{netID: "5", pending: -1}
	h := newHarness(t, relay, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := h.client.WaitForJob(ctx, "job-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStatusParsesRelayDocument(t *testing.T) {
	relay := &fakeRelay{netID: "5"}
	h := newHarness(t, relay, Config{})

	status, err := h.client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rewardAccount, status.RewardAccount)
	assert.True(t, status.NetID.Accepts(5))
	assert.Equal(t, "0.05", status.ServiceFee.String())
	assert.Equal(t, "599954321052631", status.TokenPriceInEth("DAI").String())
	assert.True(t, status.TokenPriceInEth("usdc").IsZero())
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{input: "https://relay.example.org/v1/status", expected: "https://relay.example.org"},
		{input: "relay.example.org", expected: "https://relay.example.org"},
		{input: "http://127.0.0.1:8000/", expected: "http://127.0.0.1:8000"},
		{input: "relayer.eth", wantErr: true},
		{input: "https://relayer.eth/", wantErr: true},
		{input: "ftp://relay.example.org", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range tests {
		got, err := NormalizeURL(tc.input)
		if tc.wantErr {
			assert.Error(t, err, tc.input)
			continue
		}
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, got)
	}
}

func TestNetIDJSON(t *testing.T) {
	var id NetID
	require.NoError(t, json.Unmarshal([]byte(`"*"`), &id))
	assert.True(t, id.Any)

	require.NoError(t, json.Unmarshal([]byte(`56`), &id))
	assert.Equal(t, NetID{ID: 56}, id)

	require.NoError(t, json.Unmarshal([]byte(`"100"`), &id))
	assert.Equal(t, NetID{ID: 100}, id)

	assert.Error(t, json.Unmarshal([]byte(`"mainnet"`), &id))
}
