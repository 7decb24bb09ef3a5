// harness_test.go
//
// Purpose: deterministic test harness for the evote chaincode. Provides an
// in-memory world state with per-key history, a mocked Fabric ChaincodeStub
// (via gomock) and small assertion helpers, so tests drive the contract
// without real peers, orderers or crypto material.
//
// The harness makes defensive copies of byte slices to avoid aliasing
// between test code and the "ledger" maps. Only the stub methods the
// contract actually calls are wired; everything else stays unmocked.

package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	queryresult "github.com/hyperledger/fabric-protos-go-apiv2/ledger/queryresult"
	"github.com/hyperledger/fabric-chaincode-go/v2/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/v2/shim"
	contractapi "github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
	"google.golang.org/protobuf/types/known/timestamppb"

	f "github.com/Md-Mohimul-Alam/blockchain-voting-system-sub000/fakes"
)

const (
	// 2025-06-15T15:06:40Z; all test windows are relative to this instant.
	testNow int64 = 1750000000

	testAdminDid = "did:ex:admin-1"
	testAuthDid  = "did:ex:authority-1"
	testVoter1   = "did:ex:voter-1"
	testVoter2   = "did:ex:voter-2"
	testVoter3   = "did:ex:voter-3"
	testCand1    = "did:ex:cand-1"
	testCand2    = "did:ex:cand-2"
	testElection = "EL-2025-001"
	testHash     = "ab54d286f745d7252c1d5d7f5b8e9f90c4d0b2f1e3a6c8d9e0f1a2b3c4d5e6f7"
)

/* in-memory world state with history */

type histRec struct {
	txID     string
	seconds  int64
	isDelete bool
	value    []byte
}

// memWorld is a tiny in-memory ledger used by the mock stub. It tracks
// world state, per-key history in commit order, and emitted events.
type memWorld struct {
	ws      map[string][]byte
	history map[string][]histRec
	events  []struct {
		name    string
		payload []byte
	}
}

func newMemWorld() *memWorld {
	return &memWorld{ws: make(map[string][]byte), history: make(map[string][]histRec)}
}

func (m *memWorld) getState(key string) ([]byte, error) {
	if v, ok := m.ws[key]; ok {
		return append([]byte(nil), v...), nil // copy for safety
	}
	return nil, nil
}

func (m *memWorld) putState(key string, val []byte, txID string, seconds int64) error {
	cp := append([]byte(nil), val...)
	m.ws[key] = cp
	m.history[key] = append(m.history[key], histRec{txID: txID, seconds: seconds, value: cp})
	return nil
}

func (m *memWorld) delState(key string, txID string, seconds int64) error {
	if _, ok := m.ws[key]; ok {
		delete(m.ws, key)
		m.history[key] = append(m.history[key], histRec{txID: txID, seconds: seconds, isDelete: true})
	}
	return nil
}

func (m *memWorld) setEvent(name string, payload []byte) error {
	m.events = append(m.events, struct {
		name    string
		payload []byte
	}{name: name, payload: append([]byte(nil), payload...)})
	return nil
}

// memKVIter iterates a pre-materialized slice of keys/values; it implements
// the subset of shim.StateQueryIteratorInterface the contract uses.
type memKVIter struct {
	keys []string
	vals [][]byte
	i    int
}

func (it *memKVIter) HasNext() bool { return it.i < len(it.keys) }

func (it *memKVIter) Next() (*queryresult.KV, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("iterator exhausted")
	}
	kv := &queryresult.KV{Key: it.keys[it.i], Value: it.vals[it.i]}
	it.i++
	return kv, nil
}

func (it *memKVIter) Close() error { return nil }

// iterWSRange materializes a [start, end) scan over world state in sorted
// key order, matching Fabric range semantics (empty bound = open).
func (m *memWorld) iterWSRange(start, end string) *memKVIter {
	var keys []string
	for k := range m.ws {
		if (start == "" || k >= start) && (end == "" || k < end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = append([]byte(nil), m.ws[k]...)
	}
	return &memKVIter{keys: keys, vals: vals}
}

// memHistIter replays the recorded versions of one key in commit order.
type memHistIter struct {
	recs []histRec
	i    int
}

func (it *memHistIter) HasNext() bool { return it.i < len(it.recs) }

func (it *memHistIter) Next() (*queryresult.KeyModification, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("iterator exhausted")
	}
	r := it.recs[it.i]
	it.i++
	return &queryresult.KeyModification{
		TxId:      r.txID,
		Timestamp: &timestamppb.Timestamp{Seconds: r.seconds},
		IsDelete:  r.isDelete,
		Value:     append([]byte(nil), r.value...),
	}, nil
}

func (it *memHistIter) Close() error { return nil }

/* tx context with the mocked stub */

type simpleTxCtx struct{ s shim.ChaincodeStubInterface }

func (c *simpleTxCtx) GetStub() shim.ChaincodeStubInterface { return c.s }
func (c *simpleTxCtx) GetClientIdentity() cid.ClientIdentity { return nil }

/* harness */

// testHarness bundles the mock controller, stub, in-memory ledger and the
// contract under test. txID and txSeconds are mutable so a test can step
// through distinct transactions and move the committed clock.
type testHarness struct {
	ctrl      *gomock.Controller
	ctx       contractapi.TransactionContextInterface
	stub      *f.MockChaincodeStubInterface
	mem       *memWorld
	cc        *EVoteContract
	t         *testing.T
	txID      string
	txSeconds int64
	txCount   int
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	ctrl := gomock.NewController(t)
	stub := f.NewMockChaincodeStubInterface(ctrl)
	mem := newMemWorld()

	h := &testHarness{
		ctrl: ctrl, ctx: &simpleTxCtx{s: stub}, stub: stub, mem: mem,
		cc: new(EVoteContract), t: t, txID: "tx-0001", txSeconds: testNow,
	}

	stub.EXPECT().GetTxID().AnyTimes().DoAndReturn(func() string { return h.txID })
	stub.EXPECT().GetTxTimestamp().AnyTimes().DoAndReturn(func() (*timestamppb.Timestamp, error) {
		return &timestamppb.Timestamp{Seconds: h.txSeconds}, nil
	})
	stub.EXPECT().GetChannelID().AnyTimes().Return("evotechan")

	stub.EXPECT().GetState(gomock.Any()).AnyTimes().DoAndReturn(mem.getState)
	stub.EXPECT().PutState(gomock.Any(), gomock.Any()).AnyTimes().
		DoAndReturn(func(key string, val []byte) error {
			return mem.putState(key, val, h.txID, h.txSeconds)
		})
	stub.EXPECT().DelState(gomock.Any()).AnyTimes().
		DoAndReturn(func(key string) error {
			return mem.delState(key, h.txID, h.txSeconds)
		})
	stub.EXPECT().GetStateByRange(gomock.Any(), gomock.Any()).AnyTimes().
		DoAndReturn(func(start, end string) (shim.StateQueryIteratorInterface, error) {
			return mem.iterWSRange(start, end), nil
		})
	stub.EXPECT().GetHistoryForKey(gomock.Any()).AnyTimes().
		DoAndReturn(func(key string) (shim.HistoryQueryIteratorInterface, error) {
			return &memHistIter{recs: mem.history[key]}, nil
		})
	stub.EXPECT().SetEvent(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(mem.setEvent)

	return h
}

// nextTx starts a fresh transaction: new id, same committed clock.
func (h *testHarness) nextTx() string {
	h.txCount++
	h.txID = fmt.Sprintf("tx-%04d", h.txCount+1)
	return h.txID
}

// atSeconds moves the committed transaction clock.
func (h *testHarness) atSeconds(sec int64) { h.txSeconds = sec }

// rfc3339 renders an offset from testNow the way the contract does.
func rfc3339(offsetSec int64) string {
	return time.Unix(testNow+offsetSec, 0).UTC().Format(time.RFC3339)
}

/* seeded fixtures */

// registerVoter registers a plain voter identity.
func (h *testHarness) registerVoter(did string) {
	h.t.Helper()
	h.nextTx()
	_, err := h.cc.RegisterIdentity(h.ctx, roleVoter, did,
		"Test Voter", "1990-01-01", "Testville", "user-"+did, testHash, "")
	requireNoErr(h.t, err)
}

// createOpenElection creates an election whose window contains testNow.
func (h *testHarness) createOpenElection(id string) {
	h.t.Helper()
	h.nextTx()
	_, err := h.cc.CreateElection(h.ctx, id, "General Election "+id,
		"test election", rfc3339(-3600), rfc3339(3600))
	requireNoErr(h.t, err)
}

// approveCandidate walks a did through apply + approve on an election.
func (h *testHarness) approveCandidate(electionID, did string) {
	h.t.Helper()
	h.registerVoter(did)
	h.nextTx()
	_, err := h.cc.ApplyForCandidacy(h.ctx, electionID, did)
	requireNoErr(h.t, err)
	h.nextTx()
	_, err = h.cc.ApproveApplication(h.ctx, electionID, did, testAuthDid)
	requireNoErr(h.t, err)
}

/* assertion helpers */

func requireNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// requireErrCode asserts err is non-nil and its message carries the stable
// error code.
func requireErrCode(t *testing.T, err error, code errCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if !strings.Contains(err.Error(), string(code)) {
		t.Fatalf("error %q does not carry code %s", err.Error(), code)
	}
}

// decodeJSON unmarshals a contract payload into out, failing the test on
// malformed JSON.
func decodeJSON(t *testing.T, payload string, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		t.Fatalf("bad contract payload %q: %v", payload, err)
	}
}

// lastEvent returns the most recent emitted event name, or "".
func (h *testHarness) lastEvent() string {
	if len(h.mem.events) == 0 {
		return ""
	}
	return h.mem.events[len(h.mem.events)-1].name
}

// countKeys counts world-state keys carrying a prefix.
func (h *testHarness) countKeys(prefix string) int {
	n := 0
	for k := range h.mem.ws {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n
}
