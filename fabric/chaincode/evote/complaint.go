package main

import (
	"encoding/json"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/*
Complaints and the audit trail.

Complaints are keyed by the submitting transaction id, which is unique
without any counter state. A reply overwrites any earlier reply; there is
no thread. Audit entries are written by logAction (see evote.go) and only
read here. ResetSystem is the single unrestricted-blast-radius operation
and must sit behind the strongest gateway-side authorization.
*/

// Complaint is one submitted complaint, optionally answered.
type Complaint struct {
	TxID        string `json:"txId"`
	DID         string `json:"did"`
	Content     string `json:"content"`
	SubmittedAt string `json:"submittedAt"`
	Response    string `json:"response,omitempty"`
	RespondedBy string `json:"respondedBy,omitempty"`
	ResponseAt  string `json:"responseAt,omitempty"`
}

// SubmitComplaint files a complaint under the current transaction id.
func (c *EVoteContract) SubmitComplaint(
	ctx contractapi.TransactionContextInterface,
	did, content string,
) (string, error) {
	if did == "" || content == "" {
		return "", errf(codeInvalidArgument, "did and content are required")
	}
	txID := ctx.GetStub().GetTxID()
	key := complaintKey(txID)
	if existing, err := ctx.GetStub().GetState(key); err != nil {
		return "", err
	} else if existing != nil {
		return "", errf(codeAlreadyExists, "complaint %s already exists", txID)
	}

	comp := Complaint{
		TxID:        txID,
		DID:         did,
		Content:     content,
		SubmittedAt: nowRFC3339(ctx),
	}
	if err := putRecord(ctx, key, &comp); err != nil {
		return "", err
	}
	emitEvent(ctx, eventComplaintSubmitted, map[string]string{
		"did": did, "txId": txID,
	})
	if err := logAction(ctx, did, "SubmitComplaint"); err != nil {
		return "", err
	}
	return canonicalJSON(&comp)
}

// ReplyToComplaint records a response on an existing complaint. A second
// reply replaces the first; the original content is never touched.
func (c *EVoteContract) ReplyToComplaint(
	ctx contractapi.TransactionContextInterface,
	complaintTxID, responderDid, response string,
) (string, error) {
	raw, err := ctx.GetStub().GetState(complaintKey(complaintTxID))
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", errf(codeNotFound, "complaint %s does not exist", complaintTxID)
	}
	var comp Complaint
	if err := json.Unmarshal(raw, &comp); err != nil {
		return "", err
	}
	comp.Response = response
	comp.RespondedBy = responderDid
	comp.ResponseAt = nowRFC3339(ctx)
	if err := putRecord(ctx, complaintKey(complaintTxID), &comp); err != nil {
		return "", err
	}
	emitEvent(ctx, eventComplaintAnswered, map[string]string{
		"complaintTxId": complaintTxID, "respondedBy": responderDid,
		"txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, responderDid, "ReplyToComplaint"); err != nil {
		return "", err
	}
	return canonicalJSON(&comp)
}

// GetAllComplaints lists every complaint in key order.
func (c *EVoteContract) GetAllComplaints(ctx contractapi.TransactionContextInterface) (string, error) {
	vals, err := scanPrefix(ctx, complaintPrefix, "")
	if err != nil {
		return "", err
	}
	out := make([]Complaint, 0, len(vals))
	for _, raw := range vals {
		var comp Complaint
		if json.Unmarshal(raw, &comp) != nil {
			continue
		}
		out = append(out, comp)
	}
	return listJSON(out)
}

// GetComplaintsByUser lists the complaints submitted by one did.
func (c *EVoteContract) GetComplaintsByUser(
	ctx contractapi.TransactionContextInterface,
	did string,
) (string, error) {
	vals, err := scanPrefix(ctx, complaintPrefix, "")
	if err != nil {
		return "", err
	}
	out := make([]Complaint, 0, len(vals))
	for _, raw := range vals {
		var comp Complaint
		if json.Unmarshal(raw, &comp) != nil {
			continue
		}
		if comp.DID == did {
			out = append(out, comp)
		}
	}
	return listJSON(out)
}

// GetAuditLogs returns the full append-only action log.
func (c *EVoteContract) GetAuditLogs(ctx contractapi.TransactionContextInterface) (string, error) {
	vals, err := scanPrefix(ctx, logPrefix, "")
	if err != nil {
		return "", err
	}
	out := make([]LogEntry, 0, len(vals))
	for _, raw := range vals {
		var entry LogEntry
		if json.Unmarshal(raw, &entry) != nil {
			continue
		}
		out = append(out, entry)
	}
	return listJSON(out)
}

// SearchAuditLogsByUser filters the action log by did.
func (c *EVoteContract) SearchAuditLogsByUser(
	ctx contractapi.TransactionContextInterface,
	did string,
) (string, error) {
	vals, err := scanPrefix(ctx, logPrefix, "")
	if err != nil {
		return "", err
	}
	out := make([]LogEntry, 0, len(vals))
	for _, raw := range vals {
		var entry LogEntry
		if json.Unmarshal(raw, &entry) != nil {
			continue
		}
		if entry.DID == did {
			out = append(out, entry)
		}
	}
	return listJSON(out)
}

// ResetSystem deletes every key in the ledger and re-seeds the sentinel.
//
// The key set is collected before any delete so the scan never observes its
// own writes. No audit entry is appended: after a reset only the sentinel
// exists.
func (c *EVoteContract) ResetSystem(ctx contractapi.TransactionContextInterface) (string, error) {
	it, err := ctx.GetStub().GetStateByRange("", "")
	if err != nil {
		return "", err
	}
	var keys []string
	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			it.Close()
			return "", err
		}
		keys = append(keys, kv.Key)
	}
	it.Close()

	for _, k := range keys {
		if err := ctx.GetStub().DelState(k); err != nil {
			return "", err
		}
	}

	sentinel := map[string]string{
		"resetAt": nowRFC3339(ctx),
		"txId":    ctx.GetStub().GetTxID(),
	}
	if err := putRecord(ctx, keySentinel, sentinel); err != nil {
		return "", err
	}
	emitEvent(ctx, eventSystemReset, sentinel)
	return canonicalJSON(map[string]any{
		"deletedKeys": len(keys),
		"resetAt":     sentinel["resetAt"],
		"txId":        sentinel["txId"],
	})
}
