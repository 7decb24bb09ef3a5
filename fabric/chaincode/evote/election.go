package main

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/v2/contractapi"
)

/*
Election lifecycle.

The stored active flag is a snapshot taken at creation/update time; read
paths recompute it from the transaction timestamp, never from a local
clock, so every replica agrees on whether an election is open.

Note the key overlap: election-<id> shares its prefix with the
election-authority-<did> identity keys, so every election scan skips the
longer prefix.
*/

// Election is the authoritative election record.
type Election struct {
	ElectionID  string   `json:"electionId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate"`
	Active      bool     `json:"active"`
	Candidates  []string `json:"candidates"`
	Voters      []string `json:"voters"`
	Votes       []string `json:"votes"`
	Winner      string   `json:"winner,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// CalendarEntry is the projection returned by GetElectionCalendar.
type CalendarEntry struct {
	ElectionID string `json:"electionId"`
	Title      string `json:"title"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Active     bool   `json:"active"`
}

// HistoryEntry is one prior version of an election key.
type HistoryEntry struct {
	TxID      string          `json:"txId"`
	Timestamp string          `json:"timestamp"`
	IsDelete  bool            `json:"isDelete"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// parseWindow validates the start/end instants of an election.
func parseWindow(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, errf(codeInvalidArgument, "bad startDate %q: %v", startDate, err)
	}
	end, err := time.Parse(time.RFC3339, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, errf(codeInvalidArgument, "bad endDate %q: %v", endDate, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errf(codeInvalidArgument, "endDate precedes startDate")
	}
	return start, end, nil
}

// windowOpen reports startDate <= now <= endDate for already-validated dates.
func windowOpen(e *Election, now time.Time) bool {
	start, err := time.Parse(time.RFC3339, e.StartDate)
	if err != nil {
		return false
	}
	end, err := time.Parse(time.RFC3339, e.EndDate)
	if err != nil {
		return false
	}
	return !now.Before(start) && !now.After(end)
}

// getElection fetches one election or a NOT_FOUND error. The active flag is
// recomputed against the transaction timestamp.
func getElection(ctx contractapi.TransactionContextInterface, id string) (*Election, error) {
	raw, err := ctx.GetStub().GetState(electionKey(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errf(codeNotFound, "election %s does not exist", id)
	}
	var e Election
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	e.Active = windowOpen(&e, now)
	return &e, nil
}

// scanElections returns every election, active flags recomputed.
func scanElections(ctx contractapi.TransactionContextInterface) ([]Election, error) {
	vals, err := scanPrefix(ctx, electionPrefix, roleAuthority+"-")
	if err != nil {
		return nil, err
	}
	now, err := txTime(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Election, 0, len(vals))
	for _, raw := range vals {
		var e Election
		if json.Unmarshal(raw, &e) != nil {
			continue
		}
		e.Active = windowOpen(&e, now)
		out = append(out, e)
	}
	return out, nil
}

// CreateElection registers a new election with an empty roster.
func (c *EVoteContract) CreateElection(
	ctx contractapi.TransactionContextInterface,
	id, title, description, startDate, endDate string,
) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || title == "" {
		return "", errf(codeInvalidArgument, "electionId and title are required")
	}
	start, end, err := parseWindow(startDate, endDate)
	if err != nil {
		return "", err
	}
	existing, err := ctx.GetStub().GetState(electionKey(id))
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", errf(codeAlreadyExists, "election %s already exists", id)
	}
	now, err := txTime(ctx)
	if err != nil {
		return "", err
	}

	e := Election{
		ElectionID:  id,
		Title:       title,
		Description: description,
		StartDate:   start.UTC().Format(time.RFC3339),
		EndDate:     end.UTC().Format(time.RFC3339),
		Active:      !now.Before(start) && !now.After(end),
		Candidates:  []string{},
		Voters:      []string{},
		Votes:       []string{},
		CreatedAt:   now.Format(time.RFC3339),
	}
	if err := putRecord(ctx, electionKey(id), &e); err != nil {
		return "", err
	}
	emitEvent(ctx, eventElectionCreated, map[string]string{
		"electionId": id, "txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, id, "CreateElection"); err != nil {
		return "", err
	}
	return canonicalJSON(&e)
}

// UpdateElectionDetails overwrites title, description and window. Empty
// string arguments keep the stored value.
func (c *EVoteContract) UpdateElectionDetails(
	ctx contractapi.TransactionContextInterface,
	id, title, description, startDate, endDate string,
) (string, error) {
	e, err := getElection(ctx, id)
	if err != nil {
		return "", err
	}
	if title != "" {
		e.Title = title
	}
	if description != "" {
		e.Description = description
	}
	if startDate != "" {
		e.StartDate = startDate
	}
	if endDate != "" {
		e.EndDate = endDate
	}
	start, end, err := parseWindow(e.StartDate, e.EndDate)
	if err != nil {
		return "", err
	}
	now, err := txTime(ctx)
	if err != nil {
		return "", err
	}
	e.StartDate = start.UTC().Format(time.RFC3339)
	e.EndDate = end.UTC().Format(time.RFC3339)
	e.Active = !now.Before(start) && !now.After(end)
	e.UpdatedAt = now.Format(time.RFC3339)

	if err := putRecord(ctx, electionKey(id), e); err != nil {
		return "", err
	}
	emitEvent(ctx, eventElectionUpdated, map[string]string{
		"electionId": id, "txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, id, "UpdateElectionDetails"); err != nil {
		return "", err
	}
	return canonicalJSON(e)
}

// DeleteElection removes the election record. Applications and votes keyed
// under it remain addressable for audit; only the global reset removes them.
func (c *EVoteContract) DeleteElection(
	ctx contractapi.TransactionContextInterface,
	id string,
) (string, error) {
	e, err := getElection(ctx, id)
	if err != nil {
		return "", err
	}
	if err := ctx.GetStub().DelState(electionKey(id)); err != nil {
		return "", err
	}
	emitEvent(ctx, eventElectionDeleted, map[string]string{
		"electionId": id, "txId": ctx.GetStub().GetTxID(),
	})
	if err := logAction(ctx, id, "DeleteElection"); err != nil {
		return "", err
	}
	return canonicalJSON(e)
}

// GetElectionDetails returns one election, active flag recomputed.
func (c *EVoteContract) GetElectionDetails(
	ctx contractapi.TransactionContextInterface,
	id string,
) (string, error) {
	e, err := getElection(ctx, id)
	if err != nil {
		return "", err
	}
	return canonicalJSON(e)
}

// GetAllElections lists every election.
func (c *EVoteContract) GetAllElections(ctx contractapi.TransactionContextInterface) (string, error) {
	es, err := scanElections(ctx)
	if err != nil {
		return "", err
	}
	return listJSON(es)
}

// GetUpcomingElections lists elections whose window has not opened yet.
func (c *EVoteContract) GetUpcomingElections(ctx contractapi.TransactionContextInterface) (string, error) {
	es, err := scanElections(ctx)
	if err != nil {
		return "", err
	}
	now, err := txTime(ctx)
	if err != nil {
		return "", err
	}
	upcoming := make([]Election, 0, len(es))
	for _, e := range es {
		start, err := time.Parse(time.RFC3339, e.StartDate)
		if err != nil {
			continue
		}
		if start.After(now) {
			upcoming = append(upcoming, e)
		}
	}
	return listJSON(upcoming)
}

// GetElectionCalendar returns the calendar projection of every election.
func (c *EVoteContract) GetElectionCalendar(ctx contractapi.TransactionContextInterface) (string, error) {
	es, err := scanElections(ctx)
	if err != nil {
		return "", err
	}
	cal := make([]CalendarEntry, 0, len(es))
	for _, e := range es {
		cal = append(cal, CalendarEntry{
			ElectionID: e.ElectionID,
			Title:      e.Title,
			StartDate:  e.StartDate,
			EndDate:    e.EndDate,
			Active:     e.Active,
		})
	}
	return listJSON(cal)
}

// AddCandidateToElection appends a registered candidate to the roster.
func (c *EVoteContract) AddCandidateToElection(
	ctx contractapi.TransactionContextInterface,
	electionID, did string,
) (string, error) {
	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	if _, err := getIdentity(ctx, roleCandidate, did); err != nil {
		return "", err
	}
	if containsString(e.Candidates, did) {
		return "", errf(codeAlreadyMember, "candidate %s already on election %s", did, electionID)
	}
	e.Candidates = insertSorted(e.Candidates, did)
	if err := putRecord(ctx, electionKey(electionID), e); err != nil {
		return "", err
	}
	if err := logAction(ctx, did, "AddCandidateToElection"); err != nil {
		return "", err
	}
	return canonicalJSON(e)
}

// RemoveCandidateFromElection drops a candidate from the roster.
func (c *EVoteContract) RemoveCandidateFromElection(
	ctx contractapi.TransactionContextInterface,
	electionID, did string,
) (string, error) {
	e, err := getElection(ctx, electionID)
	if err != nil {
		return "", err
	}
	if !containsString(e.Candidates, did) {
		return "", errf(codeNotFound, "candidate %s not on election %s", did, electionID)
	}
	e.Candidates = removeString(e.Candidates, did)
	if err := putRecord(ctx, electionKey(electionID), e); err != nil {
		return "", err
	}
	if err := logAction(ctx, did, "RemoveCandidateFromElection"); err != nil {
		return "", err
	}
	return canonicalJSON(e)
}

// GetElectionHistory returns every past version of one election key in
// commit order, each tagged with the producing transaction. Pure read.
func (c *EVoteContract) GetElectionHistory(
	ctx contractapi.TransactionContextInterface,
	id string,
) (string, error) {
	it, err := ctx.GetStub().GetHistoryForKey(electionKey(id))
	if err != nil {
		return "", err
	}
	defer it.Close()

	var hist []HistoryEntry
	for it.HasNext() {
		km, err := it.Next()
		if err != nil {
			return "", err
		}
		entry := HistoryEntry{
			TxID:     km.TxId,
			IsDelete: km.IsDelete,
		}
		if km.Timestamp != nil {
			entry.Timestamp = time.Unix(km.Timestamp.Seconds, int64(km.Timestamp.Nanos)).UTC().Format(time.RFC3339)
		}
		if !km.IsDelete {
			entry.Value = json.RawMessage(km.Value)
		}
		hist = append(hist, entry)
	}
	if len(hist) == 0 {
		return "", errf(codeNotFound, "election %s has no history", id)
	}
	return listJSON(hist)
}

// GetElectionVoters lists the dids that have voted in an election.
func (c *EVoteContract) GetElectionVoters(
	ctx contractapi.TransactionContextInterface,
	id string,
) (string, error) {
	e, err := getElection(ctx, id)
	if err != nil {
		return "", err
	}
	return listJSON(e.Voters)
}

// GetVoterCount returns how many distinct voters have voted in an election.
func (c *EVoteContract) GetVoterCount(
	ctx contractapi.TransactionContextInterface,
	id string,
) (string, error) {
	e, err := getElection(ctx, id)
	if err != nil {
		return "", err
	}
	return canonicalJSON(map[string]any{
		"electionId": id,
		"voterCount": len(e.Voters),
	})
}

// GetVoteCount returns how many votes exist for an election.
func (c *EVoteContract) GetVoteCount(
	ctx contractapi.TransactionContextInterface,
	id string,
) (string, error) {
	e, err := getElection(ctx, id)
	if err != nil {
		return "", err
	}
	return canonicalJSON(map[string]any{
		"electionId": id,
		"voteCount":  len(e.Votes),
	})
}
