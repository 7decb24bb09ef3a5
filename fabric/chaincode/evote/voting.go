package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/*
Voting engine.

The vote key vote-<electionId>-<voterDid> is itself the double-vote guard:
its existence rejects a second cast regardless of candidate. CastVote also
verifies the election window against the transaction timestamp and the
candidate against the roster; the surrounding gateway performs no such
checks.
*/

// Vote is one cast ballot.
type Vote struct {
	ElectionID   string `json:"electionId"`
	VoterDID     string `json:"voterDid"`
	CandidateDID string `json:"candidateDid"`
	CastAt       string `json:"castAt"`
	TxID         string `json:"txId"`
}

// getVote fetches one vote or a NOT_FOUND error.
func getVote(ctx contractapi.TransactionContextInterface, eid, voterDid string) (*Vote, error) {
	raw, err := ctx.GetStub().GetState(voteKey(eid, voterDid))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errf(codeNotFound, "no vote by %s in election %s", voterDid, eid)
	}
	var v Vote
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// tally folds the vote-<eid>- prefix scan into candidate → count. Roster
// members appear with explicit zeros; stray candidates (removed from the
// roster after votes landed) still count, so the sum always equals the
// number of vote keys.
func tally(ctx contractapi.TransactionContextInterface, e *Election) (map[string]int, int, error) {
	counts := make(map[string]int, len(e.Candidates))
	for _, did := range e.Candidates {
		counts[did] = 0
	}
	prefix := votePrefix + e.ElectionID + "-"
	vals, err := scanPrefix(ctx, prefix, "")
	if err != nil {
		return nil, 0, err
	}
	total := 0
	for _, raw := range vals {
		var v Vote
		if json.Unmarshal(raw, &v) != nil {
			continue
		}
		counts[v.CandidateDID]++
		total++
	}
	return counts, total, nil
}

// CastVote records one vote per voter per election.
func (c *EVoteContract) CastVote(
	ctx contractapi.TransactionContextInterface,
	electionID, voterDid, candidateDid string,
) (string, error) {
	electionID = strings.TrimSpace(electionID)
	voterDid = strings.TrimSpace(voterDid)
	candidateDid = strings.TrimSpace(candidateDid)
	if electionID == "" || voterDid == "" || candidateDid == "" {
		return "", errf(codeInvalidArgument, "electionId, voterDid and candidateDid are required")
	}

	key := voteKey(electionID, voterDid)
	if existing, err := ctx.GetStub().GetState(key); err != nil {
		return "", err
	} else if existing != nil {
		return "", errf(codeAlreadyVoted, "voter %s already voted in election %s", voterDid, electionID)
	}

	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	if !e.Active {
		return "", errf(codeElectionNotActive, "election %s is not open for voting", electionID)
	}
	if !containsString(e.Candidates, candidateDid) {
		return "", errf(codeInvalidArgument, "candidate %s is not on the ballot for election %s", candidateDid, electionID)
	}
	// A voter promoted to candidate keeps the franchise.
	if _, err := getIdentity(ctx, roleVoter, voterDid); err != nil {
		if _, err2 := getIdentity(ctx, roleCandidate, voterDid); err2 != nil {
			return "", err
		}
	}

	txID := ctx.GetStub().GetTxID()
	v := Vote{
		ElectionID:   electionID,
		VoterDID:     voterDid,
		CandidateDID: candidateDid,
		CastAt:       nowRFC3339(ctx),
		TxID:         txID,
	}
	if err := putRecord(ctx, key, &v); err != nil {
		return "", err
	}

	e.Voters = insertSorted(e.Voters, voterDid)
	e.Votes = insertSorted(e.Votes, key)
	if err := putRecord(ctx, electionKey(electionID), e); err != nil {
		return "", err
	}

	// Keep the candidate's convenience counter in step with the vote keys.
	if raw, err := ctx.GetStub().GetState(identityKey(roleCandidate, candidateDid)); err != nil {
		return "", err
	} else if raw != nil {
		var cand Identity
		if err := json.Unmarshal(raw, &cand); err == nil {
			cand.VoteCount++
			if err := putRecord(ctx, identityKey(roleCandidate, candidateDid), &cand); err != nil {
				return "", err
			}
		}
	}

	emitEvent(ctx, eventVoteCast, map[string]string{
		"electionId": electionID, "txId": txID,
	})
	if err := logAction(ctx, voterDid, "CastVote"); err != nil {
		return "", err
	}
	return canonicalJSON(&v)
}

// CountVotes folds every vote for an election into candidate → count.
func (c *EVoteContract) CountVotes(
	ctx contractapi.TransactionContextInterface,
	electionID string,
) (string, error) {
	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	counts, total, err := tally(ctx, e)
	if err != nil {
		return "", err
	}
	return canonicalJSON(map[string]any{
		"electionId": electionID,
		"tally":      counts,
		"totalVotes": total,
	})
}

// GetResult computes and persists the winner of an election.
//
// Ties break to the lexicographically smallest candidate did. This is a
// declared policy, not an artifact of scan order, and holds on every
// replica.
func (c *EVoteContract) GetResult(
	ctx contractapi.TransactionContextInterface,
	electionID string,
) (string, error) {
	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	counts, total, err := tally(ctx, e)
	if err != nil {
		return "", err
	}

	winner := ""
	best := -1
	for did, n := range counts {
		if n > best || (n == best && did < winner) {
			winner, best = did, n
		}
	}
	if total == 0 {
		winner = ""
	}

	e.Winner = winner
	if err := putRecord(ctx, electionKey(electionID), e); err != nil {
		return "", err
	}
	emitEvent(ctx, eventResultPublished, map[string]string{
		"electionId": electionID, "winner": winner, "txId": ctx.GetStub().GetTxID(),
	})
	// Result publication has no acting did; the entry carries action+txId.
	if err := logAction(ctx, "", "GetResult"); err != nil {
		return "", err
	}
	return canonicalJSON(map[string]any{
		"electionId": electionID,
		"tally":      counts,
		"totalVotes": total,
		"winner":     winner,
	})
}

// GetVoteReceipt returns the stored vote for (electionId, voterDid).
func (c *EVoteContract) GetVoteReceipt(
	ctx contractapi.TransactionContextInterface,
	electionID, voterDid string,
) (string, error) {
	v, err := getVote(ctx, electionID, voterDid)
	if err != nil {
		return "", err
	}
	return canonicalJSON(v)
}

// HasVoted reports whether a vote key exists for (electionId, voterDid).
func (c *EVoteContract) HasVoted(
	ctx contractapi.TransactionContextInterface,
	electionID, voterDid string,
) (string, error) {
	raw, err := ctx.GetStub().GetState(voteKey(electionID, voterDid))
	if err != nil {
		return "", err
	}
	return canonicalJSON(map[string]any{
		"electionId": electionID,
		"voterDid":   voterDid,
		"hasVoted":   raw != nil,
	})
}

// GetVotedElections lists the elections a voter has already voted in.
func (c *EVoteContract) GetVotedElections(
	ctx contractapi.TransactionContextInterface,
	voterDid string,
) (string, error) {
	return c.filterElectionsByVote(ctx, voterDid, true)
}

// GetUnvotedElections lists the elections a voter has not voted in yet.
func (c *EVoteContract) GetUnvotedElections(
	ctx contractapi.TransactionContextInterface,
	voterDid string,
) (string, error) {
	return c.filterElectionsByVote(ctx, voterDid, false)
}

func (c *EVoteContract) filterElectionsByVote(
	ctx contractapi.TransactionContextInterface,
	voterDid string,
	voted bool,
) (string, error) {
	es, err := scanElections(ctx)
	if err != nil {
		return "", err
	}
	out := make([]Election, 0, len(es))
	for _, e := range es {
		raw, err := ctx.GetStub().GetState(voteKey(e.ElectionID, voterDid))
		if err != nil {
			return "", err
		}
		if (raw != nil) == voted {
			out = append(out, e)
		}
	}
	return listJSON(out)
}

// GetTurnoutRate reports votes cast against registered voter identities as
// a two-decimal percentage. With zero registered voters the rate is the
// literal "NaN": the undefined division is represented, never computed.
func (c *EVoteContract) GetTurnoutRate(
	ctx contractapi.TransactionContextInterface,
	electionID string,
) (string, error) {
	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	_, total, err := tally(ctx, e)
	if err != nil {
		return "", err
	}
	voters, err := scanPrefix(ctx, roleVoter+"-", "")
	if err != nil {
		return "", err
	}

	rate := "NaN"
	if len(voters) > 0 {
		rate = fmt.Sprintf("%.2f", float64(total)/float64(len(voters))*100)
	}
	return canonicalJSON(map[string]any{
		"electionId":       electionID,
		"votes":            total,
		"registeredVoters": len(voters),
		"turnout":          rate,
	})
}
