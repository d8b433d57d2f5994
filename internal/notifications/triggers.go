package notifications

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/opentreehole/treehole/pkg/logger"
)

// Notifier accepts events for asynchronous dispatch.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// BatchNotifier also accepts a group of events that is queued whole or not
// at all.
type BatchNotifier interface {
	Notifier
	NotifyAll(ctx context.Context, events []Event) error
}

// Triggers is the boundary domain code calls once its own state is committed.
// Recipients are resolved by the caller.
type Triggers struct {
	notifier Notifier
	log      *zap.Logger
}

// NewTriggers constructs Triggers around notifier.
func NewTriggers(notifier Notifier) *Triggers {
	return &Triggers{notifier: notifier, log: logger.WithModule("triggers")}
}

// Floor identifies a post within a hole (thread).
type Floor struct {
	ID     int
	HoleID int
	UserID string
}

// FloorMentioned notifies the authors of mentioned floors. floor is the
// serialized mentioning floor.
func (t *Triggers) FloorMentioned(ctx context.Context, mentioned []Floor, floor Payload) error {
	var errs error
	for _, target := range mentioned {
		text := fmt.Sprintf("Your floor ##%d in hole #%d was mentioned", target.ID, target.HoleID)
		errs = multierr.Append(errs, t.notify(ctx, target.UserID, text, CodeMention, floor))
	}
	return errs
}

// FavoriteReplied notifies users who favorited holeID about a new reply.
func (t *Triggers) FavoriteReplied(ctx context.Context, holeID int, subscriberIDs []string, floor Payload) error {
	text := fmt.Sprintf("Hole #%d you favorited has a new reply", holeID)
	var errs error
	for _, userID := range subscriberIDs {
		errs = multierr.Append(errs, t.notify(ctx, userID, text, CodeFavorite, floor))
	}
	return errs
}

// ReportFiled notifies the reported floor's author and every admin id supplied.
func (t *Triggers) ReportFiled(ctx context.Context, floor Floor, adminIDs []string, report Payload) error {
	errs := t.notify(ctx, floor.UserID,
		fmt.Sprintf("Your floor #%d (##%d) was reported", floor.HoleID, floor.ID),
		CodeReport, report)

	adminText := fmt.Sprintf("Floor #%d (##%d) by user %s was reported", floor.HoleID, floor.ID, floor.UserID)
	for _, adminID := range dedupe(adminIDs) {
		errs = multierr.Append(errs, t.notify(ctx, adminID, adminText, CodeReport, report))
	}
	return errs
}

// PermissionChanged notifies a user that their permissions changed.
func (t *Triggers) PermissionChanged(ctx context.Context, userID string, permission Payload) error {
	return t.notify(ctx, userID, "Your permissions have been changed", CodePermission, permission)
}

// FloorModifiedByAdmin notifies a floor's author about an admin edit.
func (t *Triggers) FloorModifiedByAdmin(ctx context.Context, floor Floor, serialized Payload) error {
	return t.notify(ctx, floor.UserID, fmt.Sprintf("Your floor ##%d was modified", floor.ID), CodeModify, serialized)
}

// Penalty describes a moderation penalty.
type Penalty struct {
	Level      int
	Until      string
	DivisionID int
}

// PenaltyIssued notifies a floor's author about a penalty.
func (t *Triggers) PenaltyIssued(ctx context.Context, floor Floor, penalty Penalty) error {
	return t.notify(ctx, floor.UserID,
		fmt.Sprintf("You have been penalized for floor ##%d", floor.ID),
		CodePenalty,
		Payload{
			"level":       penalty.Level,
			"date":        penalty.Until,
			"division_id": penalty.DivisionID,
		})
}

// ShareEmailRequested asks recipientID to share contact details with requesterID.
func (t *Triggers) ShareEmailRequested(ctx context.Context, recipientID, requesterID string, details Payload) error {
	payload := Payload{"requester_id": requesterID}
	for key, value := range details {
		payload[key] = value
	}
	return t.notify(ctx, recipientID, "Someone asked you to share your email", CodeShareEmail, payload)
}

func (t *Triggers) notify(ctx context.Context, recipientID, text string, code Code, payload Payload) error {
	if strings.TrimSpace(recipientID) == "" {
		return nil
	}
	err := t.notifier.Notify(ctx, Event{RecipientID: recipientID, Text: text, Code: code, Payload: payload})
	if err != nil {
		t.log.Warn("enqueue notification failed",
			zap.String("recipient_id", recipientID),
			zap.String("code", string(code)),
			zap.Error(err),
		)
	}
	return err
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
