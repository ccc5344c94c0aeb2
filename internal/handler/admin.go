package handler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mlm-platform/internal/service"
)

// adminTimeout bounds the batch jobs an admin can start from chat.
const adminTimeout = 10 * time.Minute

// ReferralProcessor runs the pending referral income batch.
type ReferralProcessor interface {
	ProcessAllPending(ctx context.Context, force bool) (*service.BatchReport, error)
}

// WalletSyncer repairs wallet balances from the ledger.
type WalletSyncer interface {
	SyncWalletBalances(ctx context.Context) (service.SyncReport, error)
}

// AdminHandler handles admin batch commands.
type AdminHandler struct {
	referrals ReferralProcessor
	wallets   WalletSyncer
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(referrals ReferralProcessor, wallets WalletSyncer) *AdminHandler {
	return &AdminHandler{
		referrals: referrals,
		wallets:   wallets,
	}
}

// HandleProcessPending handles the /process_pending command.
// Format: /process_pending [force]
func (h *AdminHandler) HandleProcessPending(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	args := c.Args()
	force := len(args) > 0 && strings.EqualFold(args[0], "force")

	report, err := h.referrals.ProcessAllPending(ctx, force)
	if err != nil {
		log.Error().Err(err).Msg("Admin pending referral run failed")
		return c.Reply("❌ Run failed: " + err.Error())
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Bool("force", force).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Str("operation", "process_pending").
		Msg("Admin operation executed")

	return c.Reply(formatBatch(report, force))
}

func formatBatch(r *service.BatchReport, force bool) string {
	var b strings.Builder
	title := "Pending referral income"
	if force {
		title += " (forced)"
	}
	fmt.Fprintf(&b, "✅ %s\n━━━━━━━━━━━━━━━\nProcessed: %d\nSkipped: %d\nErrors: %d",
		title, r.Processed, r.Skipped, r.Errors)

	reasons := make([]string, 0, len(r.SkipReasons))
	for reason := range r.SkipReasons {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(&b, "\n  %s: %d", reason, r.SkipReasons[reason])
	}
	return b.String()
}

// HandleSyncWallets handles the /sync_wallets command.
func (h *AdminHandler) HandleSyncWallets(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	report, err := h.wallets.SyncWalletBalances(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Admin wallet sync failed")
		return c.Reply("❌ Sync failed: " + err.Error())
	}

	log.Info().
		Int64("admin_id", c.Sender().ID).
		Int("synced", report.Synced).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Str("operation", "sync_wallets").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"✅ Wallet sync\n━━━━━━━━━━━━━━━\nSynced: %d\nCreated: %d\nUpdated: %d\nSkipped: %d\nErrors: %d",
		report.Synced, report.Created, report.Updated, report.Skipped, report.Errors,
	))
}
