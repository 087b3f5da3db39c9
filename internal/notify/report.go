package notify

import (
	"context"
	"fmt"

	"github.com/lossharvest/harvestd/internal/domain"
)

// EventReportReady is the event type emitted when a harvest pass finishes and
// its export is available.
const EventReportReady = "report_ready"

// ReportReady notifies all channels that a harvest pass completed, with the
// headline numbers an operator wants at a glance.
func (n *Notifier) ReportReady(ctx context.Context, summary domain.Summary) error {
	title := "Harvest report ready"
	message := fmt.Sprintf(
		"run %s\nopportunities: %d across %d assets\nharvestable loss: $%s\nnet benefit: $%s\ngas efficiency: %s",
		summary.RunID,
		summary.OpportunityCount,
		summary.EligibleAssetCount,
		summary.TotalHarvestableLossUSD,
		summary.TotalNetBenefitUSD,
		summary.GasEfficiencyGrade,
	)
	return n.Notify(ctx, EventReportReady, title, message)
}
