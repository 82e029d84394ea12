package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCollector_ReportAndActive(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCollector(clock)

	c.Report(RunError{Code: ErrScanPartial, Message: "list CRDs: forbidden", Component: "inventory"})
	c.Report(RunError{Code: ErrDeleteFailed, Message: "pod wedged", Component: "engine"})

	active := c.Active()
	require.Len(t, active, 2)
	assert.ElementsMatch(t, []string{"SCAN_PARTIAL", "DELETE_FAILED"}, c.ActiveCodes())
}

func TestCollector_DedupByCodeAndComponent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCollector(clock)

	c.Report(RunError{Code: ErrScanPartial, Message: "list CRDs: forbidden", Component: "inventory"})
	c.Report(RunError{Code: ErrScanPartial, Message: "list releases: timeout", Component: "inventory"})

	active := c.Active()
	require.Len(t, active, 1, "same code+component collapses to the latest report")
	assert.Equal(t, "list releases: timeout", active[0].Message)

	// Same code from a different component is a distinct error.
	c.Report(RunError{Code: ErrScanPartial, Message: "helm", Component: "engine"})
	assert.Len(t, c.Active(), 2)
}

func TestCollector_ExpiryAndRefresh(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCollector(clock)

	c.Report(RunError{Code: ErrScanPartial, Message: "flap", Component: "inventory"})

	clock.Advance(4 * time.Minute)
	require.Len(t, c.Active(), 1)

	// Re-reporting resets the TTL window.
	c.Report(RunError{Code: ErrScanPartial, Message: "flap again", Component: "inventory"})
	clock.Advance(4 * time.Minute)
	require.Len(t, c.Active(), 1)

	clock.Advance(2 * time.Minute)
	assert.Empty(t, c.Active())
}

func TestRunError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := &RunError{Code: ErrClusterUnreachable, Message: "scan: connection refused", Err: cause}

	assert.Equal(t, "scan: connection refused", err.Error())
	assert.True(t, stderrors.Is(err, cause))
}
