package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/dwellingly/buyersign/internal/model"
	"github.com/dwellingly/buyersign/internal/repository"
	"github.com/dwellingly/buyersign/internal/status"
)

// DashboardKPIs summarizes the trailing 7-day window by invite creation time.
type DashboardKPIs struct {
	SentLast7Days           int      `json:"sentLast7Days"`
	SignedLast7Days         int      `json:"signedLast7Days"`
	ConversionRate          float64  `json:"conversionRate"`
	MedianTimeToSignMinutes *float64 `json:"medianTimeToSignMinutes"` // nil when no invite has both sent and signed events
}

// NotificationCategory groups notifications in the agent UI.
type NotificationCategory string

const (
	CategoryAction    NotificationCategory = "action"
	CategoryProtected NotificationCategory = "protected"
	CategorySystem    NotificationCategory = "system"
)

// Notification is synthesized from raw invite state on every read; nothing
// is stored.
type Notification struct {
	ID        string               `json:"id"`
	Category  NotificationCategory `json:"category"`
	Title     string               `json:"title"`
	Body      string               `json:"body"`
	Timestamp time.Time            `json:"timestamp"`
}

// Activity is one human-readable entry in the flattened audit feed.
type Activity struct {
	ID          string    `json:"id"`
	InviteID    uuid.UUID `json:"inviteId"`
	BuyerName   string    `json:"buyerName"`
	Tag         string    `json:"tag"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// ReportService computes read-side views over the full invite collection.
type ReportService interface {
	KPIs(ctx context.Context) (DashboardKPIs, error)
	Notifications(ctx context.Context) ([]Notification, error)
	Activities(ctx context.Context) ([]Activity, error)
}

// ReportServiceImpl implements ReportService by scanning ListAll.
type ReportServiceImpl struct {
	repo repository.InviteRepository
	now  func() time.Time
}

// NewReportService constructs a ReportService. A nil now falls back to time.Now.
func NewReportService(repo repository.InviteRepository, now func() time.Time) *ReportServiceImpl {
	if now == nil {
		now = time.Now
	}
	return &ReportServiceImpl{repo: repo, now: now}
}

// KPIs counts sends and signatures in the trailing 7-day window and computes
// the median minutes between INVITE_SENT and AGREEMENT_SIGNED. Every invite
// created in the window counts as sent. Invites missing either event are
// excluded from the median set, not treated as zero.
func (s *ReportServiceImpl) KPIs(ctx context.Context) (DashboardKPIs, error) {
	invites, err := s.repo.ListAll(ctx)
	if err != nil {
		return DashboardKPIs{}, err
	}
	now := s.now()
	windowStart := now.Add(-7 * 24 * time.Hour)

	var sentCount, signedCount int
	var durations []float64
	for i := range invites {
		inv := &invites[i]
		if inv.CreatedAtUTC.Before(windowStart) {
			continue
		}
		sentCount++
		signedEv := inv.FindEvent(model.EventAgreementSigned)
		if signedEv == nil {
			continue
		}
		signedCount++
		if sentEv := inv.FindEvent(model.EventInviteSent); sentEv != nil {
			durations = append(durations, signedEv.Timestamp.Sub(sentEv.Timestamp).Minutes())
		}
	}

	kpis := DashboardKPIs{
		SentLast7Days:   sentCount,
		SignedLast7Days: signedCount,
	}
	if sentCount > 0 {
		kpis.ConversionRate = float64(signedCount) / float64(sentCount) * 100
	}
	if len(durations) > 0 {
		sort.Float64s(durations)
		mid := len(durations) / 2
		var median float64
		if len(durations)%2 != 0 {
			median = durations[mid]
		} else {
			median = (durations[mid-1] + durations[mid]) / 2
		}
		kpis.MedianTimeToSignMinutes = &median
	}
	return kpis, nil
}

// Notifications derives the agent's notification feed: overdue unsigned
// invites older than 48 hours, commissions secured in the last 24 hours, and
// one static system notice. Newest first.
func (s *ReportServiceImpl) Notifications(ctx context.Context) ([]Notification, error) {
	invites, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var out []Notification
	for i := range invites {
		inv := &invites[i]
		signedEv := inv.FindEvent(model.EventAgreementSigned)
		if signedEv == nil && now.Sub(inv.CreatedAtUTC) > 48*time.Hour {
			out = append(out, Notification{
				ID:        "overdue-" + inv.ID.String(),
				Category:  CategoryAction,
				Title:     "Signature Overdue",
				Body:      fmt.Sprintf("%s has not signed after 48 hours. Consider a follow-up.", inv.BuyerName),
				Timestamp: inv.CreatedAtUTC,
			})
		}
		if signedEv != nil && now.Sub(signedEv.Timestamp) < 24*time.Hour {
			out = append(out, Notification{
				ID:        "secured-" + inv.ID.String(),
				Category:  CategoryProtected,
				Title:     "Commission Secured",
				Body:      fmt.Sprintf("%s signed the representation agreement.", inv.BuyerName),
				Timestamp: signedEv.Timestamp,
			})
		}
	}
	out = append(out, Notification{
		ID:        "system-trec",
		Category:  CategorySystem,
		Title:     "Compliance Templates Updated",
		Body:      "Buyer representation templates now reflect the latest TREC guidance.",
		Timestamp: now,
	})

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Timestamp.After(out[b].Timestamp)
	})
	return out, nil
}

// activityEntry is the fixed mapping from event type to feed copy.
var activityEntries = map[model.EventType]struct {
	Tag, Title, Description string
}{
	model.EventInviteCreated:   {"created", "Invite Created", "A representation invite was prepared for %s."},
	model.EventInviteSent:      {"sent", "Invite Sent", "The signing link was sent to %s."},
	model.EventInviteViewed:    {"terms_reviewed", "Terms Reviewed", "%s opened the agreement and reviewed the terms."},
	model.EventAgreementSigned: {"agreement_signed", "Agreement Signed", "%s signed the representation agreement."},
	model.EventInviteRevoked:   {"revoked", "Invite Revoked", "The invite for %s was revoked."},
}

// Activities flattens every invite's audit log into one newest-first feed.
func (s *ReportServiceImpl) Activities(ctx context.Context) ([]Activity, error) {
	invites, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var out []Activity
	for i := range invites {
		inv := &invites[i]
		for j, ev := range inv.AuditEvents {
			entry, ok := activityEntries[ev.Type]
			if !ok {
				continue
			}
			out = append(out, Activity{
				ID:          fmt.Sprintf("%s-%d", inv.ID, j),
				InviteID:    inv.ID,
				BuyerName:   inv.BuyerName,
				Tag:         entry.Tag,
				Title:       entry.Title,
				Description: fmt.Sprintf(entry.Description, inv.BuyerName),
				Timestamp:   ev.Timestamp,
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Timestamp.After(out[b].Timestamp)
	})
	return out, nil
}

// StatusCounts tallies derived statuses across the whole collection, used by
// the invites dashboard.
func (s *ReportServiceImpl) StatusCounts(ctx context.Context) (map[string]int, error) {
	invites, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	counts := make(map[string]int)
	for i := range invites {
		counts[status.Derive(&invites[i], now).Label()]++
	}
	return counts, nil
}
