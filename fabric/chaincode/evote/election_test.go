// election_test.go
//
// Election CRUD, activity-window recomputation against the committed
// transaction clock, roster maintenance, calendar/upcoming projections and
// the per-key history scan.

package main

import (
	"testing"
)

func TestElection_CreateRoundTrip(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	out, err := h.cc.CreateElection(h.ctx, testElection, "General Election",
		"round trip", rfc3339(-3600), rfc3339(3600))
	requireNoErr(t, err)

	var e Election
	decodeJSON(t, out, &e)
	if e.ElectionID != testElection || e.Title != "General Election" {
		t.Fatalf("unexpected record: %+v", e)
	}
	if !e.Active || e.CreatedAt == "" {
		t.Fatalf("system-computed fields missing: %+v", e)
	}
	if e.Candidates == nil || e.Voters == nil || e.Votes == nil {
		t.Fatalf("membership lists must marshal as [], got %+v", e)
	}

	got, err := h.cc.GetElectionDetails(h.ctx, testElection)
	requireNoErr(t, err)
	if got != out {
		t.Fatalf("round trip mismatch:\n put %s\n got %s", out, got)
	}
}

func TestElection_CreateDuplicateRejected(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	h.createOpenElection(testElection)
	h.nextTx()
	_, err := h.cc.CreateElection(h.ctx, testElection, "Again",
		"", rfc3339(-3600), rfc3339(3600))
	requireErrCode(t, err, codeAlreadyExists)
}

func TestElection_WindowValidation(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	_, err := h.cc.CreateElection(h.ctx, "EL-bad", "Bad", "",
		rfc3339(3600), rfc3339(-3600))
	requireErrCode(t, err, codeInvalidArgument)

	_, err = h.cc.CreateElection(h.ctx, "EL-bad", "Bad", "",
		"not-a-date", rfc3339(3600))
	requireErrCode(t, err, codeInvalidArgument)
}

func TestElection_ActiveFlagRecomputedOnRead(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	// Window opens an hour from the committed clock.
	h.nextTx()
	_, err := h.cc.CreateElection(h.ctx, testElection, "Future", "",
		rfc3339(3600), rfc3339(7200))
	requireNoErr(t, err)

	var e Election
	out, err := h.cc.GetElectionDetails(h.ctx, testElection)
	requireNoErr(t, err)
	decodeJSON(t, out, &e)
	if e.Active {
		t.Fatalf("election should not be active before its window")
	}

	// Same record, later transaction: the flag flips without any write.
	h.atSeconds(testNow + 5400)
	out, err = h.cc.GetElectionDetails(h.ctx, testElection)
	requireNoErr(t, err)
	decodeJSON(t, out, &e)
	if !e.Active {
		t.Fatalf("election should be active inside its window")
	}

	h.atSeconds(testNow + 8000)
	out, err = h.cc.GetElectionDetails(h.ctx, testElection)
	requireNoErr(t, err)
	decodeJSON(t, out, &e)
	if e.Active {
		t.Fatalf("election should not be active after its window")
	}
}

func TestElection_UpcomingAndCalendar(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	h.createOpenElection("EL-open")
	h.nextTx()
	_, err := h.cc.CreateElection(h.ctx, "EL-later", "Later", "",
		rfc3339(7200), rfc3339(10800))
	requireNoErr(t, err)

	out, err := h.cc.GetUpcomingElections(h.ctx)
	requireNoErr(t, err)
	var upcoming []Election
	decodeJSON(t, out, &upcoming)
	if len(upcoming) != 1 || upcoming[0].ElectionID != "EL-later" {
		t.Fatalf("unexpected upcoming set: %+v", upcoming)
	}

	out, err = h.cc.GetElectionCalendar(h.ctx)
	requireNoErr(t, err)
	var cal []CalendarEntry
	decodeJSON(t, out, &cal)
	if len(cal) != 2 {
		t.Fatalf("want 2 calendar entries, got %d", len(cal))
	}
	for _, entry := range cal {
		if entry.ElectionID == "" || entry.StartDate == "" || entry.EndDate == "" {
			t.Fatalf("incomplete calendar entry: %+v", entry)
		}
	}
}

func TestElection_ScansSkipAuthorityIdentities(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	// election-authority-<did> shares the election- prefix; scans must not
	// choke on or include it.
	h.nextTx()
	_, err := h.cc.RegisterIdentity(h.ctx, roleAuthority, testAuthDid,
		"Authority", "1970-01-01", "Capital", "auth", testHash, "")
	requireNoErr(t, err)
	h.createOpenElection(testElection)

	out, err := h.cc.GetAllElections(h.ctx)
	requireNoErr(t, err)
	var es []Election
	decodeJSON(t, out, &es)
	if len(es) != 1 || es[0].ElectionID != testElection {
		t.Fatalf("authority identity leaked into election scan: %+v", es)
	}
}

func TestElection_UpdateAndDelete(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	h.createOpenElection(testElection)
	h.nextTx()
	out, err := h.cc.UpdateElectionDetails(h.ctx, testElection,
		"Renamed", "new description", "", "")
	requireNoErr(t, err)
	var e Election
	decodeJSON(t, out, &e)
	if e.Title != "Renamed" || e.UpdatedAt == "" {
		t.Fatalf("update not applied: %+v", e)
	}

	h.nextTx()
	_, err = h.cc.DeleteElection(h.ctx, testElection)
	requireNoErr(t, err)
	_, err = h.cc.GetElectionDetails(h.ctx, testElection)
	requireErrCode(t, err, codeNotFound)
}

func TestElection_RosterAddRemove(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	h.createOpenElection(testElection)
	h.nextTx()
	_, err := h.cc.RegisterIdentity(h.ctx, roleCandidate, testCand1,
		"Cand One", "1985-05-05", "Testville", "c1", testHash, "")
	requireNoErr(t, err)

	// Unknown candidate did.
	h.nextTx()
	_, err = h.cc.AddCandidateToElection(h.ctx, testElection, "did:ex:ghost")
	requireErrCode(t, err, codeNotFound)

	h.nextTx()
	out, err := h.cc.AddCandidateToElection(h.ctx, testElection, testCand1)
	requireNoErr(t, err)
	var e Election
	decodeJSON(t, out, &e)
	if len(e.Candidates) != 1 || e.Candidates[0] != testCand1 {
		t.Fatalf("roster mismatch: %+v", e.Candidates)
	}

	h.nextTx()
	_, err = h.cc.AddCandidateToElection(h.ctx, testElection, testCand1)
	requireErrCode(t, err, codeAlreadyMember)

	h.nextTx()
	out, err = h.cc.RemoveCandidateFromElection(h.ctx, testElection, testCand1)
	requireNoErr(t, err)
	decodeJSON(t, out, &e)
	if len(e.Candidates) != 0 {
		t.Fatalf("candidate not removed: %+v", e.Candidates)
	}

	h.nextTx()
	_, err = h.cc.RemoveCandidateFromElection(h.ctx, testElection, testCand1)
	requireErrCode(t, err, codeNotFound)
}

func TestElection_HistoryTracksEveryVersion(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	h.createOpenElection(testElection)
	createTx := h.txID
	h.nextTx()
	_, err := h.cc.UpdateElectionDetails(h.ctx, testElection, "Renamed", "", "", "")
	requireNoErr(t, err)
	updateTx := h.txID

	out, err := h.cc.GetElectionHistory(h.ctx, testElection)
	requireNoErr(t, err)
	var hist []HistoryEntry
	decodeJSON(t, out, &hist)
	if len(hist) != 2 {
		t.Fatalf("want 2 versions, got %d", len(hist))
	}
	if hist[0].TxID != createTx || hist[1].TxID != updateTx {
		t.Fatalf("history tx order wrong: %+v", hist)
	}
	var v1 Election
	decodeJSON(t, string(hist[1].Value), &v1)
	if v1.Title != "Renamed" {
		t.Fatalf("latest version payload wrong: %+v", v1)
	}

	_, err = h.cc.GetElectionHistory(h.ctx, "EL-never")
	requireErrCode(t, err, codeNotFound)
}

func TestElection_CountsStartAtZero(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	h.createOpenElection(testElection)
	out, err := h.cc.GetVoterCount(h.ctx, testElection)
	requireNoErr(t, err)
	var vc struct {
		VoterCount int `json:"voterCount"`
	}
	decodeJSON(t, out, &vc)
	if vc.VoterCount != 0 {
		t.Fatalf("fresh election must have 0 voters, got %d", vc.VoterCount)
	}

	out, err = h.cc.GetVoteCount(h.ctx, testElection)
	requireNoErr(t, err)
	var cnt struct {
		VoteCount int `json:"voteCount"`
	}
	decodeJSON(t, out, &cnt)
	if cnt.VoteCount != 0 {
		t.Fatalf("fresh election must have 0 votes, got %d", cnt.VoteCount)
	}

	out, err = h.cc.GetElectionVoters(h.ctx, testElection)
	requireNoErr(t, err)
	if out != emptyArray {
		t.Fatalf("empty voter list must be %q, got %q", emptyArray, out)
	}
}

func TestInitLedger_Idempotent(t *testing.T) {
	h := newHarness(t)
	defer h.ctrl.Finish()

	h.nextTx()
	requireNoErr(t, h.cc.InitLedger(h.ctx))
	first := append([]byte(nil), h.mem.ws[keySentinel]...)

	// A second invocation must not rewrite the sentinel or the params.
	h.nextTx()
	requireNoErr(t, h.cc.InitLedger(h.ctx))
	if string(h.mem.ws[keySentinel]) != string(first) {
		t.Fatalf("sentinel rewritten on repeat init")
	}
	p, err := h.cc.GetParams(h.ctx)
	requireNoErr(t, err)
	if !p.EmitEvents {
		t.Fatalf("default params not seeded: %+v", p)
	}

	// Bootstrap is an infrastructure op and stays out of the audit log.
	if n := h.countKeys(logPrefix); n != 0 {
		t.Fatalf("init appended %d audit entries", n)
	}
}
