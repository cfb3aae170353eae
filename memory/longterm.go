package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/store"
)

// expertiseStreak is the number of consecutive queries with a conflicting
// user type required before the stored expertise level flips. Hysteresis
// keeps one-off queries from thrashing the profile.
const expertiseStreak = 5

// LongTerm is the durable per-user profile tier backed by SQLite.
type LongTerm struct {
	store *store.Store
}

// NewLongTerm creates the long-term tier over the document store's
// database.
func NewLongTerm(st *store.Store) *LongTerm {
	return &LongTerm{store: st}
}

// Profile returns the user's profile; missing users get a zero profile.
func (l *LongTerm) Profile(ctx context.Context, userID string) (*store.UserProfile, error) {
	return l.store.GetProfile(ctx, userID)
}

// Observe folds one classified query into the profile: query count and
// area frequencies always increment, typical complexity follows the latest
// observation, and expertise level moves only after expertiseStreak
// consecutive conflicting observations.
func (l *LongTerm) Observe(ctx context.Context, userID string, cls *intent.Classification) error {
	current, err := l.store.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("memory: load profile: %w", err)
	}

	patch := store.ProfilePatch{
		UserID:            userID,
		AreasSeen:         cls.LegalAreas,
		TypicalComplexity: cls.Complexity,
	}
	applyExpertiseHysteresis(&patch, current, cls.UserType)

	return l.store.ApplyProfilePatch(ctx, patch)
}

// applyExpertiseHysteresis fills the expertise fields of patch from the
// current profile state and the newly observed user type.
func applyExpertiseHysteresis(patch *store.ProfilePatch, current *store.UserProfile, observed string) {
	switch {
	case current.ExpertiseLevel == "unknown" || current.ExpertiseLevel == "":
		// First signal sets the level outright.
		patch.ExpertiseLevel = observed
		patch.SetPending = true

	case observed == current.ExpertiseLevel:
		// Agreement clears any pending switch.
		if current.PendingStreak > 0 {
			patch.SetPending = true
		}

	case observed == current.PendingExpertise:
		streak := current.PendingStreak + 1
		if streak >= expertiseStreak {
			patch.ExpertiseLevel = observed
			patch.SetPending = true // resets pending to zero values
		} else {
			patch.PendingExpertise = observed
			patch.PendingStreak = streak
			patch.SetPending = true
		}

	default:
		// New conflicting signal starts a fresh streak.
		patch.PendingExpertise = observed
		patch.PendingStreak = 1
		patch.SetPending = true
	}
}

// Summary renders the profile as a short prompt fragment: expertise,
// typical complexity, and the user's most frequent legal areas.
func Summary(p *store.UserProfile) string {
	if p == nil || p.QueryCount == 0 {
		return ""
	}

	type areaCount struct {
		area  string
		count int
	}
	areas := make([]areaCount, 0, len(p.AreaFrequency))
	for a, c := range p.AreaFrequency {
		areas = append(areas, areaCount{a, c})
	}
	sort.Slice(areas, func(i, j int) bool {
		if areas[i].count != areas[j].count {
			return areas[i].count > areas[j].count
		}
		return areas[i].area < areas[j].area
	})
	if len(areas) > 3 {
		areas = areas[:3]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Returning user: %d prior queries, expertise %s, typically asks %s questions.",
		p.QueryCount, p.ExpertiseLevel, p.TypicalComplexity)
	if len(areas) > 0 {
		names := make([]string, len(areas))
		for i, a := range areas {
			names[i] = a.area
		}
		fmt.Fprintf(&b, " Frequent areas: %s.", strings.Join(names, ", "))
	}
	return b.String()
}
