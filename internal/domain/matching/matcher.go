package matching

import (
	"context"
	"sort"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/registry"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// MatchType classifies how a candidate was matched.
type MatchType string

const (
	MatchExactID   MatchType = "EXACT_ID"
	MatchExactName MatchType = "EXACT_NAME"
	MatchFuzzyName MatchType = "FUZZY_NAME"
	MatchNone      MatchType = "NO_MATCH"
)

// Action is the closed routing outcome for one file.  Every consumer must
// handle all three variants explicitly.
type Action string

const (
	ActionAutoAssign     Action = "AUTO_ASSIGN"
	ActionCreateNew      Action = "CREATE_NEW"
	ActionReviewRequired Action = "REVIEW_REQUIRED"
)

// Signals records the evidence contributing to a candidate's confidence.
type Signals struct {
	ExactID           bool    `json:"exact_id"`
	NameSimilarity    float64 `json:"name_similarity"`
	RecordNumberMatch bool    `json:"record_number_match"`
}

// Candidate is one registry patient considered as a possible owner of a
// parsed identity.  Produced fresh per match attempt and never persisted
// independently; only the chosen outcome is persisted.
type Candidate struct {
	PatientID   common.PatientID `json:"patient_id"`
	DisplayName string           `json:"display_name"`
	Confidence  float64          `json:"confidence"`
	Signals     Signals          `json:"signals"`
	MatchType   MatchType        `json:"match_type"`

	// updatedAt backs the default tie-break; not exported in API responses.
	updatedAt int64
}

// Decision is the routing outcome for one file.
//
// Invariants: ActionAutoAssign requires ChosenPatientID set and
// BestCandidate.Confidence at or above the auto-assign threshold;
// ActionReviewRequired requires a best candidate inside the ambiguous band
// (or candidates tied above it); ActionCreateNew requires no candidate at or
// above the review threshold.
type Decision struct {
	Action          Action            `json:"action"`
	ChosenPatientID *common.PatientID `json:"chosen_patient_id,omitempty"`
	BestCandidate   *Candidate        `json:"best_candidate,omitempty"`
	AllCandidates   []Candidate       `json:"all_candidates,omitempty"`

	// Hints carries low-confidence candidates surfaced for admin awareness
	// on CREATE_NEW decisions; they never block processing.
	Hints []Candidate `json:"hints,omitempty"`
}

// TieBreak orders two candidates with equal confidence; it reports whether a
// should rank before b.  The default prefers the most recently updated
// registry record.
type TieBreak func(a, b *Candidate) bool

// Config carries the matcher tunables.  Zero values are replaced by the
// institutional defaults in NewMatcher.
type Config struct {
	Weights             Weights
	RecordNumberBonus   float64
	AutoAssignThreshold float64
	ReviewThreshold     float64
	// TieBandWidth widens the review band: when the runner-up is within this
	// distance of an auto-assignable best candidate the decision degrades to
	// review instead of guessing.
	TieBandWidth  float64
	MaxCandidates int
	TieBreak      TieBreak
}

// Matcher scores parsed identities against the patient registry.  It is a
// pure query component: no method writes to the registry.
type Matcher struct {
	reader registry.Reader
	cfg    Config
}

// NewMatcher constructs a Matcher, filling unset config fields with defaults.
func NewMatcher(reader registry.Reader, cfg Config) *Matcher {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.RecordNumberBonus == 0 {
		cfg.RecordNumberBonus = 0.10
	}
	if cfg.AutoAssignThreshold == 0 {
		cfg.AutoAssignThreshold = 0.95
	}
	if cfg.ReviewThreshold == 0 {
		cfg.ReviewThreshold = 0.60
	}
	if cfg.MaxCandidates == 0 {
		cfg.MaxCandidates = 5
	}
	if cfg.TieBreak == nil {
		cfg.TieBreak = func(a, b *Candidate) bool { return a.updatedAt > b.updatedAt }
	}
	return &Matcher{reader: reader, cfg: cfg}
}

// FindMatches produces the ranked candidate set and routing decision for one
// parsed identity.  The computation is deterministic for a fixed registry
// state.  A registry failure surfaces as a retryable MATCH_002 error,
// distinct from the valid no-match outcome.
func (m *Matcher) FindMatches(ctx context.Context, id *identity.PatientIdentity) (*Decision, error) {
	if id == nil || id.FullName == "" {
		return nil, errors.New(errors.ErrCodeMatchInvalidIdentity, "identity has no usable name")
	}

	// Step 1: exact record-number match short-circuits everything.
	if id.ExternalRecordID != "" {
		patient, err := m.reader.FindByRecordNumber(ctx, id.ExternalRecordID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMatchRegistryUnavailable,
				"registry lookup by record number failed")
		}
		if patient != nil {
			chosen := patient.ID
			best := Candidate{
				PatientID:   patient.ID,
				DisplayName: patient.FullName,
				Confidence:  1.0,
				Signals:     Signals{ExactID: true, NameSimilarity: 1.0},
				MatchType:   MatchExactID,
				updatedAt:   patient.UpdatedAt.UnixNano(),
			}
			return &Decision{
				Action:          ActionAutoAssign,
				ChosenPatientID: &chosen,
				BestCandidate:   &best,
				AllCandidates:   []Candidate{best},
			}, nil
		}
	}

	// Step 2: score every registry candidate on the composite similarity.
	query := identity.NormalizeName(id.FullName)
	patients, err := m.reader.FindCandidates(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMatchRegistryUnavailable,
			"registry candidate query failed")
	}

	candidates := make([]Candidate, 0, len(patients))
	for _, p := range patients {
		registryName := p.NormalizedName
		if registryName == "" {
			registryName = identity.NormalizeName(p.FullName)
		}
		sim := CompositeSimilarity(query, registryName, m.cfg.Weights)

		// Step 3: record-number corroboration bonus, capped at 1.0.
		conf := sim
		recordMatch := id.SecondaryRecordNumber != "" && id.SecondaryRecordNumber == p.RecordNumber
		if recordMatch {
			conf += m.cfg.RecordNumberBonus
			if conf > 1 {
				conf = 1
			}
		}
		if conf <= 0 {
			continue
		}

		matchType := MatchFuzzyName
		if sim >= 1.0 {
			matchType = MatchExactName
		}
		candidates = append(candidates, Candidate{
			PatientID:   p.ID,
			DisplayName: p.FullName,
			Confidence:  conf,
			Signals:     Signals{NameSimilarity: sim, RecordNumberMatch: recordMatch},
			MatchType:   matchType,
			updatedAt:   p.UpdatedAt.UnixNano(),
		})
	}

	// Step 4: rank by confidence descending, ties by the configured breaker.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return m.cfg.TieBreak(&candidates[i], &candidates[j])
	})
	if len(candidates) > m.cfg.MaxCandidates {
		candidates = candidates[:m.cfg.MaxCandidates]
	}

	// Step 5: threshold routing.
	return m.route(candidates), nil
}

// route maps a ranked candidate list onto exactly one action.  The three
// confidence bands are contiguous and non-overlapping:
//
//	[auto, 1.0]    AUTO_ASSIGN (unless a runner-up ties into the band)
//	[review, auto) REVIEW_REQUIRED
//	[0, review)    CREATE_NEW
func (m *Matcher) route(candidates []Candidate) *Decision {
	if len(candidates) == 0 {
		return &Decision{Action: ActionCreateNew}
	}

	best := candidates[0]
	switch {
	case best.Confidence >= m.cfg.AutoAssignThreshold:
		if len(candidates) > 1 &&
			best.Confidence-candidates[1].Confidence <= m.cfg.TieBandWidth &&
			candidates[1].Confidence >= m.cfg.ReviewThreshold {
			// Two near-identical strong candidates: a human picks.
			return &Decision{
				Action:        ActionReviewRequired,
				BestCandidate: &best,
				AllCandidates: candidates,
			}
		}
		chosen := best.PatientID
		return &Decision{
			Action:          ActionAutoAssign,
			ChosenPatientID: &chosen,
			BestCandidate:   &best,
			AllCandidates:   candidates,
		}
	case best.Confidence >= m.cfg.ReviewThreshold:
		return &Decision{
			Action:        ActionReviewRequired,
			BestCandidate: &best,
			AllCandidates: candidates,
		}
	default:
		// No candidate strong enough; surface the weak ones as
		// informational hints so admins can spot near-misses.
		return &Decision{Action: ActionCreateNew, Hints: candidates}
	}
}

// RouteConfidence exposes pure threshold routing for a single confidence
// value.  Used by tests asserting the partition property and by tooling.
func (m *Matcher) RouteConfidence(confidence float64) Action {
	switch {
	case confidence >= m.cfg.AutoAssignThreshold:
		return ActionAutoAssign
	case confidence >= m.cfg.ReviewThreshold:
		return ActionReviewRequired
	default:
		return ActionCreateNew
	}
}
