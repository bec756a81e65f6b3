package order

import (
	"fmt"
	"time"

	"github.com/Bernabe-03/oplaisir/internal/apperr"
	"github.com/Bernabe-03/oplaisir/internal/catalog"
)

type stockEffect int

const (
	stockNone stockEffect = iota
	stockTake
	stockRestoreIfValidated
)

type transition struct {
	from          map[Status]bool
	to            Status
	historyAction string
	description   string
	stock         stockEffect
}

var transitions = map[Action]transition{
	ActionValidate: {
		from:          map[Status]bool{StatusPending: true},
		to:            StatusValidated,
		historyAction: "validated",
		description:   "Order validated by an administrator",
		stock:         stockTake,
	},
	ActionReject: {
		from:          map[Status]bool{StatusPending: true},
		to:            StatusRejected,
		historyAction: "rejected",
		description:   "Order rejected",
	},
	ActionComplete: {
		from:          map[Status]bool{StatusValidated: true},
		to:            StatusCompleted,
		historyAction: "completed",
		description:   "Order marked as completed",
	},
	ActionCancel: {
		from:          map[Status]bool{StatusPending: true, StatusValidated: true},
		to:            StatusCancelled,
		historyAction: "cancelled",
		description:   "Order cancelled",
		stock:         stockRestoreIfValidated,
	},
	ActionShip: {
		from:          map[Status]bool{StatusValidated: true},
		to:            StatusValidated,
		historyAction: "shipped",
		description:   "Order handed over for delivery",
	},
	ActionDeliver: {
		from:          map[Status]bool{StatusValidated: true},
		to:            StatusDelivered,
		historyAction: "delivered",
		description:   "Order delivered",
	},
}

// undeletable lists the statuses an order can no longer be deleted from.
var undeletable = map[Status]bool{
	StatusCompleted: true,
	StatusValidated: true,
	StatusDelivered: true,
}

func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := transitions[a]; !ok {
		return "", apperr.InvalidAction("unknown action %q", s)
	}
	return a, nil
}

// terminal reports whether no action is accepted from s.
func terminal(s Status) bool {
	for _, t := range transitions {
		if t.from[s] {
			return false
		}
	}
	return true
}

// takeStock lists the decrements validate applies. Untracked items are
// skipped by the store itself, so every line is listed.
func takeStock(items []LineItem) []catalog.Adjustment {
	adjs := make([]catalog.Adjustment, 0, len(items))
	for _, item := range items {
		adjs = append(adjs, catalog.Decrement(item.Ref, item.Quantity))
	}
	return adjs
}

// restoreStock is the exact inverse of takeStock for an order that was
// validated, and empty otherwise.
func restoreStock(prior Status, items []LineItem) []catalog.Adjustment {
	if prior != StatusValidated {
		return nil
	}
	adjs := make([]catalog.Adjustment, 0, len(items))
	for _, item := range items {
		adjs = append(adjs, catalog.Increment(item.Ref, item.Quantity))
	}
	return adjs
}

// planTransition validates action against the order's current status and
// builds the change the repository must apply.
func planTransition(o *Order, action Action, actorID string, params TransitionParams, now time.Time) (StatusChange, error) {
	t, ok := transitions[action]
	if !ok {
		return StatusChange{}, apperr.InvalidAction("unknown action %q", action)
	}
	if terminal(o.Status) {
		return StatusChange{}, apperr.InvalidAction("order %s is %s and accepts no further action", o.OrderNumber, o.Status)
	}
	if !t.from[o.Status] {
		return StatusChange{}, apperr.InvalidAction("cannot %s an order in status %s", action, o.Status)
	}
	if action == ActionReject && (params.Reason == nil || *params.Reason == "") {
		return StatusChange{}, apperr.InvalidInput("a reason is required to reject an order")
	}

	var adjs []catalog.Adjustment
	switch t.stock {
	case stockTake:
		adjs = takeStock(o.Items)
	case stockRestoreIfValidated:
		adjs = restoreStock(o.Status, o.Items)
	}

	description := t.description
	if action == ActionReject {
		description = fmt.Sprintf("Order rejected: %s", *params.Reason)
	}

	apply := func(target *Order) {
		target.Status = t.to
		switch action {
		case ActionValidate:
			by := actorID
			at := now
			target.ValidatedBy = &by
			target.ValidatedAt = &at
		case ActionReject:
			reason := *params.Reason
			target.RejectionReason = &reason
		case ActionDeliver:
			if target.DeliveryDate == nil && params.DeliveryDate == nil {
				at := now
				target.DeliveryDate = &at
			}
		}
		if params.DeliveryDate != nil {
			target.DeliveryDate = params.DeliveryDate
		}
		if params.EstimatedDelivery != nil {
			target.EstimatedDelivery = params.EstimatedDelivery
		}
		target.UpdatedAt = now
	}

	return StatusChange{
		OrderID:        o.ID,
		ExpectedStatus: o.Status,
		NewStatus:      t.to,
		Adjustments:    adjs,
		Apply:          apply,
		History: HistoryEntry{
			OrderID:     o.ID,
			Status:      t.to,
			Action:      t.historyAction,
			Description: description,
			ActorID:     actorID,
			Metadata:    transitionMetadata(action, params, now),
			CreatedAt:   now,
		},
	}, nil
}

func transitionMetadata(action Action, params TransitionParams, now time.Time) map[string]any {
	m := map[string]any{
		"action":            string(action),
		"timestamp":         now.UTC().Format(time.RFC3339Nano),
		"reason":            nil,
		"deliveryDate":      nil,
		"estimatedDelivery": nil,
	}
	if params.Reason != nil {
		m["reason"] = *params.Reason
	}
	if params.DeliveryDate != nil {
		m["deliveryDate"] = params.DeliveryDate.UTC().Format(time.RFC3339)
	}
	if params.EstimatedDelivery != nil {
		m["estimatedDelivery"] = params.EstimatedDelivery.UTC().Format(time.RFC3339)
	}
	if params.TrackingNumber != nil {
		m["trackingNumber"] = *params.TrackingNumber
	}
	if params.DeliveryPerson != nil {
		m["deliveryPerson"] = *params.DeliveryPerson
	}
	if params.PaidAmount != nil {
		m["paidAmount"] = params.PaidAmount.String()
	}
	if params.PaymentReference != nil {
		m["paymentReference"] = *params.PaymentReference
	}
	return m
}

// planDeletion refuses undeletable orders and returns the stock to hand back
// with the delete.
func planDeletion(o *Order) ([]catalog.Adjustment, error) {
	if undeletable[o.Status] {
		return nil, apperr.Conflict("order %s in status %s cannot be deleted", o.OrderNumber, o.Status)
	}
	return restoreStock(o.Status, o.Items), nil
}
