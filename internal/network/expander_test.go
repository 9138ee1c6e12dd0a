package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"loanlens/internal/models"
)

const loan = "1225290972"

type fakeStore struct {
	direct     []models.Call
	all        []models.Call
	directErr  error
	partyErr   error
	lastParty  string
	lastFrom   time.Time
	lastTo     time.Time
	partyCalls int
}

func (f *fakeStore) DirectCalls(context.Context, string) ([]models.Call, error) {
	return f.direct, f.directErr
}

func (f *fakeStore) CallsByParticipant(_ context.Context, party string, from, to time.Time) ([]models.Call, error) {
	f.partyCalls++
	f.lastParty, f.lastFrom, f.lastTo = party, from, to
	if f.partyErr != nil {
		return nil, f.partyErr
	}
	var out []models.Call
	for _, c := range f.all {
		if c.HasParty(party) && !c.Timestamp.Before(from) && !c.Timestamp.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

var day = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

func call(id string, at time.Time, local, remote, loans string) models.Call {
	return models.Call{CallID: id, Timestamp: at, LocalParty: local, RemoteParty: remote, LoanNumbersRaw: loans}
}

func TestExpandNoDirectCalls(t *testing.T) {
	store := &fakeStore{}
	set, err := NewExpander(store, Processors{}, zap.NewNop()).Expand(context.Background(), loan, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(set.Calls) != 0 || set.LoanOfficer != "" {
		t.Fatalf("expected empty set, got %+v", set)
	}
	if store.partyCalls != 0 {
		t.Fatal("no officer query expected without direct calls")
	}
}

func TestExpandTagsAndOrders(t *testing.T) {
	officer := "+15550001"
	d1 := call("d1", day, "1001", officer, `["`+loan+`"]`)
	d2 := call("d2", day.Add(48*time.Hour), "1002", officer, `["`+loan+`"]`)
	// Direct call with a different counterpart; must survive even though
	// the officer query never returns it.
	d3 := call("d3", day.Add(24*time.Hour), "1003", "+15557777", `["`+loan+`"]`)

	store := &fakeStore{
		direct: []models.Call{d1, d2, d3},
		all: []models.Call{
			d1, d2,
			call("n1", day.Add(-48*time.Hour), "1001", officer, `[]`),
			call("p1", day.Add(12*time.Hour), "8005550000", officer, `["9999999"]`),
			call("m1", day.Add(36*time.Hour), officer, "1005", `["`+loan+`","1234567"]`),
			call("far", day.Add(-10*24*time.Hour), "1001", officer, `[]`),
		},
	}
	exp := NewExpander(store, Processors{Prefixes: []string{"800"}}, zap.NewNop())

	set, err := exp.Expand(context.Background(), loan, 3*24*time.Hour)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if set.LoanOfficer != officer {
		t.Fatalf("officer = %q", set.LoanOfficer)
	}
	if !set.WindowStart.Equal(day.Add(-72*time.Hour)) || !set.WindowEnd.Equal(day.Add(48*time.Hour+72*time.Hour)) {
		t.Fatalf("window = %v .. %v", set.WindowStart, set.WindowEnd)
	}

	wantOrder := []string{"n1", "d1", "p1", "d3", "m1", "d2"}
	wantTags := []Tag{TagNetwork, TagDirect, TagProcessor, TagDirect, TagDirect, TagDirect}
	if len(set.Calls) != len(wantOrder) {
		t.Fatalf("got %d calls: %+v", len(set.Calls), set.Calls)
	}
	for i, c := range set.Calls {
		if c.CallID != wantOrder[i] || c.Tag != wantTags[i] {
			t.Fatalf("position %d = %s/%s, want %s/%s", i, c.CallID, c.Tag, wantOrder[i], wantTags[i])
		}
	}
}

func TestExpandIsSupersetOfDirect(t *testing.T) {
	officer := "+15550001"
	direct := []models.Call{
		call("d1", day, "1001", officer, `["`+loan+`"]`),
		call("d2", day.Add(time.Hour), "1001", "+15550002", `["`+loan+`"]`),
	}
	store := &fakeStore{direct: direct, all: direct}

	set, err := NewExpander(store, Processors{}, zap.NewNop()).Expand(context.Background(), loan, 0)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	seen := map[string]int{}
	for _, c := range set.Calls {
		seen[c.CallID]++
	}
	for _, d := range direct {
		if seen[d.CallID] != 1 {
			t.Fatalf("direct call %s appears %d times", d.CallID, seen[d.CallID])
		}
	}
}

func TestLoanOfficerTieBreak(t *testing.T) {
	calls := []models.Call{
		call("a", day, "1001", "+15550009", ""),
		call("b", day, "1001", "+15550001", ""),
		call("c", day, "1001", "", ""),
	}
	if got := LoanOfficer(calls); got != "+15550001" {
		t.Fatalf("officer = %q, want smallest on tie", got)
	}
	calls = append(calls, call("d", day, "1001", "+15550009", ""))
	if got := LoanOfficer(calls); got != "+15550009" {
		t.Fatalf("officer = %q, want most frequent", got)
	}
}

func TestExpandStoreFailures(t *testing.T) {
	boom := errors.New("connection refused")

	_, err := NewExpander(&fakeStore{directErr: boom}, Processors{}, zap.NewNop()).Expand(context.Background(), loan, time.Hour)
	var lf *LookupFailure
	if !errors.As(err, &lf) || !errors.Is(err, boom) {
		t.Fatalf("expected LookupFailure wrapping cause, got %v", err)
	}

	store := &fakeStore{
		direct:   []models.Call{call("d1", day, "1001", "+15550001", `["`+loan+`"]`)},
		partyErr: context.DeadlineExceeded,
	}
	_, err = NewExpander(store, Processors{}, zap.NewNop()).Expand(context.Background(), loan, time.Hour)
	if !errors.As(err, &lf) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected LookupFailure for timeout, got %v", err)
	}
}

func TestExpandMalformedRows(t *testing.T) {
	officer := "+15550001"
	d1 := call("d1", day, "1001", officer, `["`+loan+`"]`)

	store := &fakeStore{
		direct: []models.Call{d1},
		all: []models.Call{
			d1,
			call("bad", day.Add(time.Hour), "1001", officer, `["123`),
			call("good", day.Add(2*time.Hour), "1001", officer, `[]`),
		},
	}
	set, err := NewExpander(store, Processors{}, zap.NewNop()).Expand(context.Background(), loan, time.Hour*24)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if set.SkippedRows != 1 || len(set.Calls) != 2 {
		t.Fatalf("set = %+v", set)
	}

	store.all = []models.Call{
		call("bad1", day.Add(time.Hour), "1001", officer, `not json`),
		call("bad2", day.Add(2*time.Hour), "1001", officer, `{`),
	}
	_, err = NewExpander(store, Processors{}, zap.NewNop()).Expand(context.Background(), loan, time.Hour*24)
	var lf *LookupFailure
	if !errors.As(err, &lf) {
		t.Fatalf("expected LookupFailure when every row is malformed, got %v", err)
	}
}

func TestExpandRejectsNegativeWindow(t *testing.T) {
	_, err := NewExpander(&fakeStore{}, Processors{}, zap.NewNop()).Expand(context.Background(), loan, -time.Second)
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestProcessorsMatch(t *testing.T) {
	p := Processors{Prefixes: []string{"+1800"}, Numbers: []string{"4000"}}
	for number, want := range map[string]bool{
		"+18005551234": true,
		"4000":         true,
		"40001":        false,
		"":             false,
		"+15551234":    false,
	} {
		if got := p.matches(number); got != want {
			t.Errorf("matches(%q) = %v, want %v", number, got, want)
		}
	}
}
