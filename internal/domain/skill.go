package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Skill is a synthesized procedural-memory record. Skills are never
// written directly by callers; the consolidator creates and reinforces
// them from repeated interaction patterns.
type Skill struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Intent        string    `json:"intent"`
	Steps         []string  `json:"steps"`
	SuccessRate   float64   `json:"success_rate"`
	EvidenceCount int       `json:"evidence_count"`
	DerivedFrom   []string  `json:"derived_from,omitempty"`
	LastUsed      time.Time `json:"last_used,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SkillResult is a skill with its match score for a query.
type SkillResult struct {
	Skill Skill   `json:"skill"`
	Score float64 `json:"score"`
}

// SkillID derives a stable id from the skill name, so re-synthesizing
// the same pattern reinforces the existing record.
func SkillID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:16]
}
