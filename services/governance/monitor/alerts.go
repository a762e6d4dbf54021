// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// Alert is emitted when a project's drift status moves into an alerting
// status.
type Alert struct {
	ID             string                `json:"id"`
	ProjectID      string                `json:"project_id"`
	PlanID         string                `json:"plan_id"`
	Status         datatypes.DriftStatus `json:"status"`
	PreviousStatus datatypes.DriftStatus `json:"previous_status,omitempty"`
	Score          float64               `json:"score"`
	Violations     []datatypes.Violation `json:"violations"`
	AnalyzedAt     time.Time             `json:"analyzed_at"`
}

// AlertSink delivers alerts to a notification channel.
type AlertSink interface {
	Send(ctx context.Context, a Alert) error
}

// NopSink drops every alert.
type NopSink struct{}

func (NopSink) Send(context.Context, Alert) error { return nil }

// ChannelSink delivers alerts on C. Send blocks until the alert is taken or
// ctx is done.
type ChannelSink struct {
	C chan Alert
}

// NewChannelSink creates a sink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{C: make(chan Alert, buffer)}
}

func (s *ChannelSink) Send(ctx context.Context, a Alert) error {
	select {
	case s.C <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MultiSink fans an alert out to every sink. All sinks are attempted; a
// partial or total failure is reported as a *DeliveryError.
type MultiSink []AlertSink

func (m MultiSink) Send(ctx context.Context, a Alert) error {
	var (
		failed MultiSink
		errs   []error
	)
	for _, s := range m {
		if err := s.Send(ctx, a); err != nil {
			failed = append(failed, s)
			errs = append(errs, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &DeliveryError{
		Failed:    failed,
		Delivered: len(m) - len(failed),
		Err:       errors.Join(errs...),
	}
}

// DeliveryError lists the sinks of a MultiSink that did not take an alert.
// Delivered counts the sinks that did.
type DeliveryError struct {
	Failed    MultiSink
	Delivered int
	Err       error
}

func (e *DeliveryError) Error() string { return e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

// shouldAlert reports whether status must be alerted given the status of
// the previous successful cycle. A status is alerted once; it is alerted
// again only after the project passed through a different status.
func shouldAlert(prev datatypes.DriftStatus, havePrev bool, status datatypes.DriftStatus) bool {
	if !status.Alerting() {
		return false
	}
	return !havePrev || prev != status
}

var (
	_ AlertSink = NopSink{}
	_ AlertSink = (*ChannelSink)(nil)
	_ AlertSink = MultiSink(nil)
)
