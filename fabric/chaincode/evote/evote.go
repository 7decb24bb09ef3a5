// -----------------------------------------------------------------------------
// Evote_cc contract (Go, Fabric v2)
// Purpose: Election-management chaincode owning all authoritative state for
// identities, elections, candidacy workflow, vote casting/counting, complaints
// and an append-only audit trail.
// Role in system: The REST gateway authenticates callers and invokes these
// functions with string arguments; every mutating function commits its writes
// atomically within one ledger transaction and appends a log-<txID> entry.
// Key dependencies: Hyperledger Fabric contractapi; world state is the only
// store (no private data collections, no companion chaincodes).
// -----------------------------------------------------------------------------

/*
evote.go: contract type, key scheme, runtime parameters and shared helpers.

World-state key scheme (stable contract, see also the per-entity files):

	admin-<did>               identity, singleton role
	election-authority-<did>  identity, singleton role
	voter-<did>               identity
	candidate-<did>           identity + candidate profile (one record)
	election-<id>             election
	application-<eid>-<did>   candidacy application
	vote-<eid>-<voterDid>     vote (key existence is the double-vote guard)
	complain-<txID>           complaint
	log-<txID>                audit log entry
	singleton-<role>          occupancy marker for singleton roles
	system-initialized        reset sentinel

Range scans use the lexicographic convention prefix .. prefix+"~"; "~" sorts
after every character the key scheme produces.

All timestamps come from GetTxTimestamp and all unique ids from GetTxID, so
re-execution on another replica produces byte-identical writes.
*/
package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/* Keys & constants */

const (
	roleAdmin     = "admin"
	roleAuthority = "election-authority"
	roleVoter     = "voter"
	roleCandidate = "candidate"
)

const (
	electionPrefix    = "election-"
	applicationPrefix = "application-"
	votePrefix        = "vote-"
	complaintPrefix   = "complain-"
	logPrefix         = "log-"
	singletonPrefix   = "singleton-"
	keyParams         = "params"
	keySentinel       = "system-initialized"
)

const (
	eventIdentityRegistered = "IdentityRegistered"
	eventRoleReassigned     = "RoleReassigned"
	eventElectionCreated    = "ElectionCreated"
	eventElectionUpdated    = "ElectionUpdated"
	eventElectionDeleted    = "ElectionDeleted"
	eventCandidacyApplied   = "CandidacyApplied"
	eventCandidacyDecided   = "CandidacyDecided"
	eventVoteCast           = "VoteCast"
	eventResultPublished    = "ResultPublished"
	eventComplaintSubmitted = "ComplaintSubmitted"
	eventComplaintAnswered  = "ComplaintAnswered"
	eventSystemReset        = "SystemReset"
)

func identityKey(role, did string) string  { return role + "-" + did }
func electionKey(id string) string         { return electionPrefix + id }
func applicationKey(eid, did string) string {
	return applicationPrefix + eid + "-" + did
}
func voteKey(eid, voterDid string) string { return votePrefix + eid + "-" + voterDid }
func complaintKey(txID string) string     { return complaintPrefix + txID }
func logKey(txID string) string           { return logPrefix + txID }
func singletonKey(role string) string     { return singletonPrefix + role }

// rangeEnd is the exclusive upper bound for an open-ended prefix scan.
func rangeEnd(prefix string) string { return prefix + "~" }

// validRoles is the closed set of identity key prefixes.
var validRoles = map[string]bool{
	roleAdmin:     true,
	roleAuthority: true,
	roleVoter:     true,
	roleCandidate: true,
}

// singletonRoles may have at most one identity system-wide, enforced by a
// counter key written in the same transaction as the identity record.
var singletonRoles = map[string]bool{
	roleAdmin:     true,
	roleAuthority: true,
}

// EVoteContract implements the election-management contract.
//
// Responsibilities:
// - Identity & role registry (registration, login, role re-keying).
// - Election lifecycle (CRUD, activity window, roster, history).
// - Candidacy workflow (pending → approved/rejected/withdrawn).
// - Voting engine (one vote per voter per election, tally, winner, turnout).
// - Complaints and the append-only audit log, plus full ledger reset.
type EVoteContract struct{ contractapi.Contract }

// Params contains runtime toggles stored under the "params" key.
type Params struct {
	EmitEvents bool `json:"EMIT_EVENTS"`
}

// getParams reads runtime parameters, falling back to defaults when the key
// is absent or unparsable.
func getParams(ctx contractapi.TransactionContextInterface) *Params {
	p := &Params{EmitEvents: true}
	if b, err := ctx.GetStub().GetState(keyParams); err == nil && b != nil {
		var on Params
		if json.Unmarshal(b, &on) == nil {
			return &on
		}
	}
	return p
}

// SetParams merges the given JSON object into the stored runtime parameters.
// Infrastructure op: touches only the params key, no audit entry, no event.
func (c *EVoteContract) SetParams(ctx contractapi.TransactionContextInterface, paramsJSON string) error {
	cur := getParams(ctx)
	jsCur, _ := json.Marshal(cur)
	var merged map[string]any
	_ = json.Unmarshal(jsCur, &merged)

	var upd map[string]any
	if err := json.Unmarshal([]byte(paramsJSON), &upd); err != nil {
		return errf(codeInvalidArgument, "bad params json: %v", err)
	}
	for k, v := range upd {
		merged[k] = v
	}
	js, _ := json.Marshal(merged)
	return ctx.GetStub().PutState(keyParams, js)
}

// GetParams returns the stored runtime parameters.
func (c *EVoteContract) GetParams(ctx contractapi.TransactionContextInterface) (*Params, error) {
	return getParams(ctx), nil
}

/* Shared helpers */

// txTime returns the transaction-commit timestamp as UTC. Contract code must
// never read a local clock; this is the only source of "now".
func txTime(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("tx timestamp: %w", err)
	}
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC(), nil
}

// nowRFC3339 renders the transaction timestamp as an RFC3339 UTC string.
func nowRFC3339(ctx contractapi.TransactionContextInterface) string {
	t, err := txTime(ctx)
	if err != nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// mustJSON marshals v and ignores errors (used for events and small writes).
func mustJSON(v any) []byte { b, _ := json.Marshal(v); return b }

// emitEvent sets a chaincode event unless events are disabled via params.
func emitEvent(ctx contractapi.TransactionContextInterface, name string, payload any) {
	if getParams(ctx).EmitEvents {
		_ = ctx.GetStub().SetEvent(name, mustJSON(payload))
	}
}

// putRecord canonicalizes v and writes it under key, so that identical
// logical state serializes identically on every replica.
func putRecord(ctx contractapi.TransactionContextInterface, key string, v any) error {
	b, err := canonicalBytes(v)
	if err != nil {
		return err
	}
	return ctx.GetStub().PutState(key, b)
}

// LogEntry is one row of the append-only audit trail, keyed log-<txID>.
type LogEntry struct {
	TxID      string `json:"txId"`
	DID       string `json:"did"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// logAction appends the audit entry for the current transaction. Every
// mutating operation calls this exactly once, as its final write.
func logAction(ctx contractapi.TransactionContextInterface, did, action string) error {
	txID := ctx.GetStub().GetTxID()
	entry := LogEntry{
		TxID:      txID,
		DID:       did,
		Action:    action,
		Timestamp: nowRFC3339(ctx),
	}
	return putRecord(ctx, logKey(txID), entry)
}

// scanPrefix materializes a prefix range scan into raw values, in key order.
// skip, when non-empty, drops keys carrying that longer prefix (needed where
// one prefix is a prefix of another, e.g. election- vs election-authority-).
func scanPrefix(ctx contractapi.TransactionContextInterface, prefix, skip string) ([][]byte, error) {
	it, err := ctx.GetStub().GetStateByRange(prefix, rangeEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out [][]byte
	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return nil, err
		}
		if skip != "" && strings.HasPrefix(kv.Key, skip) {
			continue
		}
		out = append(out, kv.Value)
	}
	return out, nil
}

// containsString reports membership in a small sorted-or-not slice.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// removeString returns list without s, preserving order.
func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// insertSorted adds s keeping the slice sorted, the convention for every
// stored membership list.
func insertSorted(list []string, s string) []string {
	list = append(list, s)
	sort.Strings(list)
	return list
}

/* Bootstrap */

// InitLedger writes the reset sentinel and default runtime parameters when
// absent. Safe to invoke repeatedly. Infrastructure op: no audit entry.
func (c *EVoteContract) InitLedger(ctx contractapi.TransactionContextInterface) error {
	if b, err := ctx.GetStub().GetState(keySentinel); err == nil && b == nil {
		if err := putRecord(ctx, keySentinel, map[string]string{
			"initializedAt": nowRFC3339(ctx),
			"txId":          ctx.GetStub().GetTxID(),
		}); err != nil {
			return err
		}
	}
	if b, err := ctx.GetStub().GetState(keyParams); err == nil && b == nil {
		if err := ctx.GetStub().PutState(keyParams, mustJSON(&Params{EmitEvents: true})); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cc, err := contractapi.NewChaincode(new(EVoteContract))
	if err != nil {
		panic(err)
	}
	if err := cc.Start(); err != nil {
		panic(err)
	}
}
