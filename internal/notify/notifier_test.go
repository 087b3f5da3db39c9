package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lossharvest/harvestd/internal/domain"
)

type fakeSender struct {
	name     string
	fail     bool
	titles   []string
	messages []string
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	if f.fail {
		return errors.New("unreachable")
	}
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNotify_FiltersByEvent(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []string{EventReportReady}, testLogger())

	require.NoError(t, n.Notify(context.Background(), "other_event", "t", "m"))
	assert.Empty(t, sender.titles)

	require.NoError(t, n.Notify(context.Background(), EventReportReady, "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestNotify_EmptyEventListAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestDispatch_OneFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "bad", fail: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	assert.Error(t, err)
	assert.Len(t, good.titles, 1)
}

func TestReportReady_FormatsSummary(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []string{EventReportReady}, testLogger())

	sum := domain.Summary{
		RunID:                   uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		TotalHarvestableLossUSD: decimal.NewFromInt(600),
		TotalNetBenefitUSD:      decimal.NewFromInt(79),
		EligibleAssetCount:      1,
		OpportunityCount:        1,
		GasEfficiencyGrade:      domain.GasGradeB,
	}
	require.NoError(t, n.ReportReady(context.Background(), sum))

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "net benefit: $79")
	assert.Contains(t, sender.messages[0], "gas efficiency: B")
	assert.Equal(t, "Harvest report ready", sender.titles[0])
}
