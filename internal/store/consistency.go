package store

import (
	"bytes"
	"fmt"
	"time"
)

// IssueKind categorizes a detected collection inconsistency.
type IssueKind int

const (
	// IssueOrphanRecord is a live binary index record with no payload.
	IssueOrphanRecord IssueKind = iota
	// IssueMissingRecord is a payload with no live binary index record.
	IssueMissingRecord
	// IssueCodeMismatch is a record whose stored code disagrees with the
	// projection of the payload's vector.
	IssueCodeMismatch
	// IssueCorruptPayload is a payload file that fails to decode.
	IssueCorruptPayload
)

// String returns the issue kind's wire name.
func (k IssueKind) String() string {
	switch k {
	case IssueOrphanRecord:
		return "orphan_record"
	case IssueMissingRecord:
		return "missing_record"
	case IssueCodeMismatch:
		return "code_mismatch"
	case IssueCorruptPayload:
		return "corrupt_payload"
	default:
		return "unknown"
	}
}

// Issue is one detected inconsistency.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	ID      string    `json:"id"`
	Details string    `json:"details"`
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	Checked  int           `json:"checked"`
	Issues   []Issue       `json:"issues,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the check found no issues.
func (r *CheckResult) OK() bool { return len(r.Issues) == 0 }

// CheckConsistency verifies the collection invariants: every live binary
// index record resolves to a payload whose vector projects to the stored
// code, and every payload has a live record. O(n) over both files.
func (c *Collection) CheckConsistency() (*CheckResult, error) {
	start := time.Now()
	result := &CheckResult{}

	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	if c.binIdx != nil {
		err := c.binIdx.IterLive(func(idHash uint64, code []byte) error {
			result.Checked++
			id, ok := c.idsByHash[idHash]
			if !ok {
				result.Issues = append(result.Issues, Issue{
					Kind:    IssueOrphanRecord,
					ID:      fmt.Sprintf("%016x", idHash),
					Details: "live index record without a payload",
				})
				return nil
			}
			seen[id] = true

			p, gerr := c.payloads.Get(id)
			if gerr != nil {
				result.Issues = append(result.Issues, Issue{
					Kind:    IssueCorruptPayload,
					ID:      id,
					Details: gerr.Error(),
				})
				return nil
			}
			want, perr := c.matrix.Project(p.Vector)
			if perr != nil {
				result.Issues = append(result.Issues, Issue{
					Kind:    IssueCodeMismatch,
					ID:      id,
					Details: perr.Error(),
				})
				return nil
			}
			if !bytes.Equal(want, code) {
				result.Issues = append(result.Issues, Issue{
					Kind:    IssueCodeMismatch,
					ID:      id,
					Details: "stored code disagrees with projected vector",
				})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	err := c.payloads.IterAll(func(p Point) error {
		// Reference entries are payload-only; no index record exists for
		// them.
		if t, _ := p.Payload[KeyType].(string); t == TypeBlobReference {
			return nil
		}
		if !seen[p.ID] {
			result.Issues = append(result.Issues, Issue{
				Kind:    IssueMissingRecord,
				ID:      p.ID,
				Details: "payload without a live index record",
			})
		}
		return nil
	}, func(id string, cerr error) {
		result.Issues = append(result.Issues, Issue{
			Kind:    IssueCorruptPayload,
			ID:      id,
			Details: cerr.Error(),
		})
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}
