package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/ledger/store"
)

var fixedNow = time.Date(2024, 3, 3, 9, 30, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	for _, key := range []string{
		"FOODLEDGER_PORT", "FOODLEDGER_DB", "FOODLEDGER_TOKENS", "FOODLEDGER_KAFKA_BROKERS",
		"FOODLEDGER_KAFKA_TOPIC", "FOODLEDGER_SERVER", "FOODLEDGER_TOKEN", "FOODLEDGER_LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}
	os.Exit(m.Run())
}

func mustID(t *testing.T, hex string) ledger.ContentID {
	t.Helper()
	id, err := ledger.ParseContentID(hex)
	require.NoError(t, err)
	return id
}

// seededLedger holds the two records every CLI test starts from.
func seededLedger(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	records := []ledger.Record{
		{
			ExternalID: "SCE-001", Product: "Rice", Quantity: "20 tons",
			Source: "Farm A", SourceLocation: "Kansas",
			Destination: "Mill B", DestinationLocation: "Ohio",
			Status: ledger.StatusDelivered, Date: 1709251200,
			ContentID: mustID(t, "0x"+strings.Repeat("11", 32)),
		},
		{
			ExternalID: "SCE-002", Product: "Wheat", Quantity: "500 kg",
			Source: "Silo 4", SourceLocation: "Nebraska",
			Destination: "Bakery Co", DestinationLocation: "Chicago",
			Status: ledger.StatusPending, Date: 1709337600,
			ContentID: mustID(t, "0x"+strings.Repeat("22", 32)),
		},
	}
	for _, r := range records {
		_, err := mem.Append(context.Background(), r)
		require.NoError(t, err)
	}
	return mem
}

type result struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, ctx context.Context, b Backend, args ...string) result {
	t.Helper()
	opts := &RootOptions{
		dial: func(server, token string) (Backend, error) { return b, nil },
		now:  func() time.Time { return fixedNow },
	}
	cmd := newRootCommand(opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// =============================================================================
// COMMAND TREE
// =============================================================================

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "foodctl", cmd.Use)

	for _, name := range []string{"count", "list", "get", "submit", "watch"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"server", "token", "config", "format"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "count", "--format", "yaml")
	assert.ErrorContains(t, res.err, "invalid format")
}

// =============================================================================
// READ COMMANDS
// =============================================================================

func TestCount_JSON(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "count", "--format", "json")
	require.NoError(t, res.err)
	assert.Equal(t, `{"status":"ok","data":{"count":2}}`+"\n", res.stdout)
}

func TestList_Golden(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"list", []string{"list"}},
		{"list_search_wheat", []string{"list", "--search", "WHEAT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, context.Background(), seededLedger(t), tt.args...)
			require.NoError(t, res.err, res.stderr)
			golden(t).Assert(t, tt.name, []byte(res.stdout))
		})
	}
}

func TestList_StatusFilterJSON(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "list", "--status", "2", "--format", "json")
	require.NoError(t, res.err)

	var resp struct {
		Status string     `json:"status"`
		Data   ListResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Shown)
	assert.Equal(t, uint64(2), resp.Data.Total)
	require.Len(t, resp.Data.Transactions, 1)
	assert.Equal(t, "SCE-001", resp.Data.Transactions[0].ExternalID)
	assert.Empty(t, resp.Data.Missing)
}

func TestList_Summary(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "list", "--summary")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "By status:")
	assert.Contains(t, res.stdout, "  Delivered  1\n")
	assert.Contains(t, res.stdout, "  500 kg\n")
	assert.Contains(t, res.stdout, "  20 tons\n")
}

func TestList_InvalidStatus(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "list", "--status", "lost")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "E001")
}

func TestGet_Golden(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "get", "--position", "0")
	require.NoError(t, res.err, res.stderr)
	golden(t).Assert(t, "get", []byte(res.stdout))
}

func TestGet_ByContentID(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "get", "--id", "0x"+strings.Repeat("22", 32), "--format", "json")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, `"id":"SCE-002"`)
	assert.Contains(t, res.stdout, `"position":1`)
}

func TestGet_NotFound(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "get", "--position", "9")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stderr, "Error [E002]")
}

func TestGet_RequiresOneSelector(t *testing.T) {
	res := runCLI(t, context.Background(), seededLedger(t), "get")
	assert.Error(t, res.err)

	res = runCLI(t, context.Background(), seededLedger(t), "get", "--position", "0", "--id", "0x00")
	assert.Error(t, res.err)
}

// =============================================================================
// SUBMIT
// =============================================================================

func submitArgs(extra ...string) []string {
	args := []string{"submit",
		"--id", "SCE-003", "--product", "Barley", "--quantity", "12 tons",
		"--source", "Co-op", "--source-location", "Iowa",
		"--destination", "Brewery", "--destination-location", "Denver",
	}
	return append(args, extra...)
}

func TestSubmit_Success(t *testing.T) {
	mem := seededLedger(t)

	res := runCLI(t, context.Background(), mem, submitArgs("--status", "in transit")...)

	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "Recorded SCE-003 (Barley) at position 2\n")
	want := ledger.DeriveContentID("SCE-003", "Barley", fixedNow)
	assert.Contains(t, res.stdout, "Content ID: "+want.String())

	stored, err := mem.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusInTransit, stored.Status)
	assert.Equal(t, uint64(1709424000), stored.Date, "date defaults to today")
}

func TestSubmit_InvalidNeverAppends(t *testing.T) {
	mem := seededLedger(t)

	for _, args := range [][]string{
		submitArgs("--product", " "),
		submitArgs("--status", "7"),
		submitArgs("--date", "2024/03/01"),
	} {
		res := runCLI(t, context.Background(), mem, args...)
		require.Error(t, res.err)
		assert.Equal(t, ExitFailure, GetExitCode(res.err))
		assert.Contains(t, res.stderr, "E001")
	}

	count, err := mem.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_PrintsExistingAndNewRecords(t *testing.T) {
	mem := seededLedger(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan result, 1)
	go func() {
		done <- runCLI(t, ctx, mem, "watch", "--interval", "10ms")
	}()

	// Appended while watch is polling.
	time.Sleep(30 * time.Millisecond)
	_, err := mem.Append(context.Background(), ledger.Record{
		ExternalID: "SCE-009", Product: "Oats", Quantity: "3 tons",
		Source: "Farm C", SourceLocation: "Maine",
		Destination: "Mill D", DestinationLocation: "Vermont",
		Status: ledger.StatusPending, Date: 1709251200,
		ContentID: mustID(t, "0x"+strings.Repeat("99", 32)),
	})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "#0 2024-03-01 SCE-001 Rice Farm A -> Mill B Delivered\n")
	assert.Contains(t, res.stdout, "#1 2024-03-02 SCE-002 Wheat Silo 4 -> Bakery Co Pending\n")
	assert.Contains(t, res.stdout, "#2 2024-03-01 SCE-009 Oats Farm C -> Mill D Pending\n")
	assert.Equal(t, 1, strings.Count(res.stdout, "SCE-001"))
}

// flakyBackend has no working bulk read and fails the first read of
// position 0.
type flakyBackend struct {
	*store.Memory
	reads atomic.Int32
}

func (b *flakyBackend) Range(ctx context.Context, from, to uint64) ([]ledger.Entry, error) {
	return nil, ledger.Unavailable(errors.New("bulk read disabled"))
}

func (b *flakyBackend) Get(ctx context.Context, pos uint64) (ledger.Record, error) {
	if pos == 0 && b.reads.Add(1) == 1 {
		return ledger.Record{}, ledger.Unavailable(errors.New("connection reset"))
	}
	return b.Memory.Get(ctx, pos)
}

func TestWatch_PrintsRecordMissingFromEarlierRefresh(t *testing.T) {
	// GIVEN: A ledger whose first read of position 0 fails
	b := &flakyBackend{Memory: seededLedger(t)}
	ctx, cancel := context.WithCancel(context.Background())

	// WHEN: watch polls past the failed read
	done := make(chan result, 1)
	go func() {
		done <- runCLI(t, ctx, b, "watch", "--interval", "10ms")
	}()
	require.Eventually(t, func() bool { return b.reads.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	// THEN: Both records are printed exactly once
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 1, strings.Count(res.stdout, "#0 2024-03-01 SCE-001 Rice Farm A -> Mill B Delivered\n"))
	assert.Equal(t, 1, strings.Count(res.stdout, "#1 2024-03-02 SCE-002 Wheat Silo 4 -> Bakery Co Pending\n"))
}

// streamingBackend pushes events from a channel the test controls.
type streamingBackend struct {
	*store.Memory
	events chan ledger.TransactionAdded
}

func (b *streamingBackend) Events(ctx context.Context) (<-chan ledger.TransactionAdded, error) {
	return b.events, nil
}

func TestWatch_StopsFollowingEventsBeforeReturning(t *testing.T) {
	// GIVEN: watch following an event stream
	b := &streamingBackend{Memory: seededLedger(t), events: make(chan ledger.TransactionAdded)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan result, 1)
	go func() {
		done <- runCLI(t, ctx, b, "watch", "--interval", "1h")
	}()

	r := ledger.Record{
		ExternalID: "SCE-010", Product: "Millet", Quantity: "2 tons",
		Source: "Farm E", SourceLocation: "Utah",
		Destination: "Mill F", DestinationLocation: "Idaho",
		Status: ledger.StatusCancelled, Date: 1709251200,
		ContentID: mustID(t, "0x"+strings.Repeat("aa", 32)),
	}
	pos, err := b.Append(context.Background(), r)
	require.NoError(t, err)
	// The repeat is only received once the refresh for the first has run.
	for i := 0; i < 2; i++ {
		select {
		case b.events <- ledger.TransactionAdded{ExternalID: r.ExternalID, Position: pos}:
		case <-time.After(2 * time.Second):
			t.Fatal("watch never read the event stream")
		}
	}

	// WHEN: watch is interrupted
	cancel()
	res := <-done

	// THEN: The announced record was printed and nothing reads the stream any more
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "#2 2024-03-01 SCE-010 Millet Farm E -> Mill F Cancelled\n")
	select {
	case b.events <- ledger.TransactionAdded{Position: pos + 1}:
		t.Fatal("event stream still read after watch returned")
	case <-time.After(50 * time.Millisecond):
	}
}
