package main

import (
	"encoding/json"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/*
Candidacy workflow.

State machine per (electionId, did):

	pending → approved   (terminal; promotes the identity to candidate)
	pending → rejected   (terminal)
	pending → withdrawn  (re-apply allowed: Apply resets the key to pending)

Approval performs three writes in one transaction: application status,
identity re-key voter→candidate, and roster append. Either all commit or
none do.
*/

const (
	statusPending   = "pending"
	statusApproved  = "approved"
	statusRejected  = "rejected"
	statusWithdrawn = "withdrawn"
)

// Application is one candidacy application record.
type Application struct {
	ElectionID string `json:"electionId"`
	DID        string `json:"did"`
	Status     string `json:"status"`
	AppliedAt  string `json:"appliedAt"`
	DecidedAt  string `json:"decidedAt,omitempty"`
	DecidedBy  string `json:"decidedBy,omitempty"`
}

// getApplication fetches one application or a NOT_FOUND error.
func getApplication(ctx contractapi.TransactionContextInterface, eid, did string) (*Application, error) {
	raw, err := ctx.GetStub().GetState(applicationKey(eid, did))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errf(codeNotFound, "application for %s on election %s does not exist", did, eid)
	}
	var a Application
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ApplyForCandidacy submits (or, after a withdrawal, resubmits) a candidacy
// application for an active election.
func (c *EVoteContract) ApplyForCandidacy(
	ctx contractapi.TransactionContextInterface,
	electionID, did string,
) (string, error) {
	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	if !e.Active {
		return "", errf(codeElectionNotActive, "election %s is not active", electionID)
	}
	// A did promoted to candidate by an earlier election may apply again.
	if _, err := getIdentity(ctx, roleVoter, did); err != nil {
		if _, err2 := getIdentity(ctx, roleCandidate, did); err2 != nil {
			return "", err
		}
	}

	key := applicationKey(electionID, did)
	if raw, err := ctx.GetStub().GetState(key); err != nil {
		return "", err
	} else if raw != nil {
		var prev Application
		if err := json.Unmarshal(raw, &prev); err != nil {
			return "", err
		}
		if prev.Status != statusWithdrawn {
			return "", errf(codeDuplicateApplication, "application for %s on election %s already %s", did, electionID, prev.Status)
		}
	}

	a := Application{
		ElectionID: electionID,
		DID:        did,
		Status:     statusPending,
		AppliedAt:  nowRFC3339(ctx),
	}
	if err := putRecord(ctx, key, &a); err != nil {
		return "", err
	}
	emitEvent(ctx, eventCandidacyApplied, map[string]string{
		"electionId": electionID, "did": did, "txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, did, "ApplyForCandidacy"); err != nil {
		return "", err
	}
	return canonicalJSON(&a)
}

// ApproveApplication moves a pending application to approved, promotes the
// applicant's identity to the candidate role and appends the did to the
// election roster, all in this one transaction.
func (c *EVoteContract) ApproveApplication(
	ctx contractapi.TransactionContextInterface,
	electionID, did, approverDid string,
) (string, error) {
	a, err := getApplication(ctx, electionID, did)
	if err != nil {
		return "", err
	}
	if a.Status != statusPending {
		return "", errf(codeInvalidTransition, "application for %s on election %s is %s, not pending", did, electionID, a.Status)
	}

	a.Status = statusApproved
	a.DecidedAt = nowRFC3339(ctx)
	a.DecidedBy = approverDid
	if err := putRecord(ctx, applicationKey(electionID, did), a); err != nil {
		return "", err
	}

	// Promote the identity: re-key voter-<did> to candidate-<did>. A did
	// already promoted by another election keeps its candidate record.
	if raw, err := ctx.GetStub().GetState(identityKey(roleVoter, did)); err != nil {
		return "", err
	} else if raw != nil {
		var id Identity
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", err
		}
		if err := ctx.GetStub().DelState(identityKey(roleVoter, did)); err != nil {
			return "", err
		}
		id.Role = roleCandidate
		if err := putRecord(ctx, identityKey(roleCandidate, did), &id); err != nil {
			return "", err
		}
	} else if _, err := getIdentity(ctx, roleCandidate, did); err != nil {
		return "", err
	}

	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	if !containsString(e.Candidates, did) {
		e.Candidates = insertSorted(e.Candidates, did)
		if err := putRecord(ctx, electionKey(electionID), e); err != nil {
			return "", err
		}
	}

	emitEvent(ctx, eventCandidacyDecided, map[string]string{
		"electionId": electionID, "did": did, "status": statusApproved,
		"txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, approverDid, "ApproveApplication"); err != nil {
		return "", err
	}
	return canonicalJSON(a)
}

// RejectApplication moves a pending application to rejected. An approved
// candidate is never downgraded.
func (c *EVoteContract) RejectApplication(
	ctx contractapi.TransactionContextInterface,
	electionID, did, approverDid string,
) (string, error) {
	a, err := getApplication(ctx, electionID, did)
	if err != nil {
		return "", err
	}
	if a.Status != statusPending {
		return "", errf(codeInvalidTransition, "application for %s on election %s is %s, not pending", did, electionID, a.Status)
	}
	a.Status = statusRejected
	a.DecidedAt = nowRFC3339(ctx)
	a.DecidedBy = approverDid
	if err := putRecord(ctx, applicationKey(electionID, did), a); err != nil {
		return "", err
	}
	emitEvent(ctx, eventCandidacyDecided, map[string]string{
		"electionId": electionID, "did": did, "status": statusRejected,
		"txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, approverDid, "RejectApplication"); err != nil {
		return "", err
	}
	return canonicalJSON(a)
}

// WithdrawApplication lets an applicant pull a still-pending application.
func (c *EVoteContract) WithdrawApplication(
	ctx contractapi.TransactionContextInterface,
	electionID, did string,
) (string, error) {
	a, err := getApplication(ctx, electionID, did)
	if err != nil {
		return "", err
	}
	if a.Status != statusPending {
		return "", errf(codeInvalidTransition, "application for %s on election %s is %s, not pending", did, electionID, a.Status)
	}
	a.Status = statusWithdrawn
	a.DecidedAt = nowRFC3339(ctx)
	if err := putRecord(ctx, applicationKey(electionID, did), a); err != nil {
		return "", err
	}
	if err := logAction(ctx, did, "WithdrawApplication"); err != nil {
		return "", err
	}
	return canonicalJSON(a)
}

// ListApplications returns every application for one election.
func (c *EVoteContract) ListApplications(
	ctx contractapi.TransactionContextInterface,
	electionID string,
) (string, error) {
	vals, err := scanPrefix(ctx, applicationPrefix+electionID+"-", "")
	if err != nil {
		return "", err
	}
	apps := make([]Application, 0, len(vals))
	for _, raw := range vals {
		var a Application
		if json.Unmarshal(raw, &a) != nil {
			continue
		}
		apps = append(apps, a)
	}
	return listJSON(apps)
}

// GetApprovedCandidates returns the candidate records on an election's
// roster. Roster entries without a candidate record are skipped.
func (c *EVoteContract) GetApprovedCandidates(
	ctx contractapi.TransactionContextInterface,
	electionID string,
) (string, error) {
	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	out := make([]Identity, 0, len(e.Candidates))
	for _, did := range e.Candidates {
		raw, err := ctx.GetStub().GetState(identityKey(roleCandidate, did))
		if err != nil {
			return "", err
		}
		if raw == nil {
			continue
		}
		var id Identity
		if json.Unmarshal(raw, &id) != nil {
			continue
		}
		out = append(out, id)
	}
	return listJSON(out)
}

/* Candidate profile CRUD */

// GetCandidateProfile returns the candidate record for a did.
func (c *EVoteContract) GetCandidateProfile(
	ctx contractapi.TransactionContextInterface,
	did string,
) (string, error) {
	id, err := getIdentity(ctx, roleCandidate, did)
	if err != nil {
		return "", err
	}
	return canonicalJSON(id)
}

// UpdateCandidateProfile overwrites the mutable candidate profile fields.
func (c *EVoteContract) UpdateCandidateProfile(
	ctx contractapi.TransactionContextInterface,
	did, fullName, birthplace, image string,
) (string, error) {
	return c.UpdateProfile(ctx, roleCandidate, did, fullName, birthplace, image)
}

// DeleteCandidateProfile removes a candidate record and scrubs the did from
// every election roster. Referential integrity is the contract's job; the
// ledger enforces nothing.
func (c *EVoteContract) DeleteCandidateProfile(
	ctx contractapi.TransactionContextInterface,
	did string,
) (string, error) {
	id, err := getIdentity(ctx, roleCandidate, did)
	if err != nil {
		return "", err
	}
	if err := ctx.GetStub().DelState(identityKey(roleCandidate, did)); err != nil {
		return "", err
	}

	es, err := scanElections(ctx)
	if err != nil {
		return "", err
	}
	for i := range es {
		if !containsString(es[i].Candidates, did) {
			continue
		}
		es[i].Candidates = removeString(es[i].Candidates, did)
		if err := putRecord(ctx, electionKey(es[i].ElectionID), &es[i]); err != nil {
			return "", err
		}
	}

	if err := logAction(ctx, did, "DeleteCandidateProfile"); err != nil {
		return "", err
	}
	return canonicalJSON(id)
}
