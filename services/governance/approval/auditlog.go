// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package approval

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGovernance/pkg/extensions"
)

// GenesisHash is the PrevHash of the first entry in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const auditLogFileMode = 0600

// Audit actions.
const (
	ActionChallengeIssued = "challenge_issued"
	ActionApprove         = "approve"
	ActionReject          = "reject"
	ActionExpire          = "expire"
	ActionRateLimited     = "rate_limited"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

// AuditEntry is one line of the approval audit log. Entries never carry
// verification codes or secrets.
type AuditEntry struct {
	Sequence  int64  `json:"sequence"`
	Timestamp string `json:"timestamp"`
	PlanID    string `json:"plan_id"`
	ProjectID string `json:"project_id"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

func computeEntryHash(e AuditEntry) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s",
		e.Sequence, e.Timestamp, e.PlanID, e.ProjectID,
		e.Actor, e.Action, e.Outcome, e.Reason, e.PrevHash)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// AuditLog is an append-only, hash-chained JSONL file.
//
// # Description
//
// Each entry's EntryHash covers its fields and the previous entry's hash,
// so editing or removing any line breaks VerifyChain from that point on.
// The chain resumes from the last entry when an existing file is reopened.
// Entries are also forwarded to an extensions.AuditLogger; forwarding
// failures are logged and do not fail the append.
//
// # Thread Safety
//
// Safe for concurrent use.
type AuditLog struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	sequence int64
	prevHash string
	forward  extensions.AuditLogger
	logger   *slog.Logger
	now      func() time.Time
}

// OpenAuditLog opens or creates the log at path with mode 0600.
func OpenAuditLog(path string, forward extensions.AuditLogger, logger *slog.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if forward == nil {
		forward = &extensions.NopAuditLogger{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := &AuditLog{
		file:     file,
		path:     path,
		prevHash: GenesisHash,
		forward:  forward,
		logger:   logger,
		now:      time.Now,
	}
	entries, err := ReadAuditEntries(path)
	if err != nil {
		file.Close()
		return nil, err
	}
	if n := len(entries); n > 0 {
		l.sequence = entries[n-1].Sequence
		l.prevHash = entries[n-1].EntryHash
	}
	logger.Info("approval audit log opened", "path", path, "sequence", l.sequence)
	return l, nil
}

// Path returns the file path.
func (l *AuditLog) Path() string { return l.path }

// Append chains and writes e. Sequence, Timestamp and the hashes are
// assigned here.
func (l *AuditLog) Append(ctx context.Context, e AuditEntry) (AuditEntry, error) {
	l.mu.Lock()
	e.Sequence = l.sequence + 1
	e.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	e.PrevHash = l.prevHash
	e.EntryHash = computeEntryHash(e)

	line, err := json.Marshal(e)
	if err != nil {
		l.mu.Unlock()
		return AuditEntry{}, fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		l.mu.Unlock()
		return AuditEntry{}, fmt.Errorf("write audit entry: %w", err)
	}
	l.sequence = e.Sequence
	l.prevHash = e.EntryHash
	l.mu.Unlock()

	event := extensions.AuditEvent{
		EventType:    "plan." + e.Action,
		UserID:       e.Actor,
		Action:       e.Action,
		ResourceType: "sacred_plan",
		ResourceID:   e.PlanID,
		Outcome:      e.Outcome,
		Metadata: map[string]any{
			"project_id": e.ProjectID,
			"sequence":   e.Sequence,
			"reason":     e.Reason,
		},
	}
	if err := l.forward.Log(ctx, event); err != nil {
		l.logger.Warn("audit forward failed", "sequence", e.Sequence, "error", err)
	}
	return e, nil
}

// VerifyChain re-reads the file and checks every link.
func (l *AuditLog) VerifyChain() (valid bool, breakIndex int64, err error) {
	return VerifyAuditFile(l.path)
}

// Close closes the file.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadAuditEntries parses every entry in path. A missing file has no
// entries. Lines that are not entries are skipped.
func ReadAuditEntries(path string) ([]AuditEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var out []AuditEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil || e.Sequence == 0 {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return out, nil
}

// VerifyAuditFile checks the chain in path. breakIndex is the zero-based
// index of the first bad entry, or -1 when the chain is intact.
func VerifyAuditFile(path string) (valid bool, breakIndex int64, err error) {
	entries, err := ReadAuditEntries(path)
	if err != nil {
		return false, -1, err
	}
	prev := GenesisHash
	for i, e := range entries {
		if e.PrevHash != prev || computeEntryHash(e) != e.EntryHash {
			return false, int64(i), nil
		}
		prev = e.EntryHash
	}
	return true, -1, nil
}
