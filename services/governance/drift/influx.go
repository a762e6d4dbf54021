// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drift

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// MeasurementName is the InfluxDB measurement for drift scores.
const MeasurementName = "drift_analysis"

// InfluxRecorder writes each analysis as one point.
type InfluxRecorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

// NewInfluxRecorder connects to url. The client is lazy; nothing is dialed
// until the first write.
func NewInfluxRecorder(url, token, org, bucket string) *InfluxRecorder {
	client := influxdb2.NewClient(url, token)
	return &InfluxRecorder{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
	}
}

// Record implements Recorder.
func (r *InfluxRecorder) Record(ctx context.Context, a *datatypes.DriftAnalysis) error {
	if err := r.write.WritePoint(ctx, AnalysisPoint(a)); err != nil {
		return fmt.Errorf("write drift point: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *InfluxRecorder) Close() {
	r.client.Close()
}

// AnalysisPoint converts an analysis to a line protocol point tagged by
// project, plan and status.
func AnalysisPoint(a *datatypes.DriftAnalysis) *write.Point {
	return influxdb2.NewPoint(
		MeasurementName,
		map[string]string{
			"project_id": a.ProjectID,
			"plan_id":    a.PlanID,
			"status":     string(a.Status),
		},
		map[string]interface{}{
			"score":      a.Score,
			"violations": len(a.Violations),
			"rank":       a.Status.Rank(),
		},
		a.AnalyzedAt,
	)
}

var _ Recorder = (*InfluxRecorder)(nil)
