package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/iago/fitcoach-back/internal/domain"
)

var ErrInvalidParams = errors.New("invalid generation params")

// Diet values that place no constraint on food items.
var unrestrictedDiets = map[string]struct{}{
	"":         {},
	"none":     {},
	"any":      {},
	"omnivore": {},
	"regular":  {},
}

// Normalize canonicalizes params so that semantically equal requests encode
// identically: strings trimmed and lower-cased, lists de-duplicated and sorted.
func Normalize(params domain.GenerationParams) (domain.GenerationParams, error) {
	kind := domain.JobKind(normalizeString(string(params.Kind)))
	if !kind.Valid() {
		return domain.GenerationParams{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidParams, params.Kind)
	}
	if params.Calories < 0 || params.DaysPerWeek < 0 || params.SessionMinutes < 0 || params.MealsPerDay < 0 {
		return domain.GenerationParams{}, fmt.Errorf("%w: negative numeric field", ErrInvalidParams)
	}
	if params.DaysPerWeek > 7 {
		return domain.GenerationParams{}, fmt.Errorf("%w: days_per_week above 7", ErrInvalidParams)
	}

	diet := normalizeString(params.Diet)
	if _, unrestricted := unrestrictedDiets[diet]; unrestricted {
		diet = ""
	}

	return domain.GenerationParams{
		Kind:            kind,
		Goal:            normalizeString(params.Goal),
		ExperienceLevel: normalizeString(params.ExperienceLevel),
		Equipment:       normalizeList(params.Equipment),
		Injuries:        normalizeList(params.Injuries),
		Focus:           normalizeList(params.Focus),
		DaysPerWeek:     params.DaysPerWeek,
		SessionMinutes:  params.SessionMinutes,
		Calories:        params.Calories,
		Diet:            diet,
		Allergies:       normalizeList(params.Allergies),
		MealsPerDay:     params.MealsPerDay,
	}, nil
}

// Compute returns the normalized params, their canonical encoding and the
// SHA-256 fingerprint of that encoding.
func Compute(params domain.GenerationParams) (domain.GenerationParams, json.RawMessage, string, error) {
	normalized, err := Normalize(params)
	if err != nil {
		return domain.GenerationParams{}, nil, "", err
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return domain.GenerationParams{}, nil, "", fmt.Errorf("encode params: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return normalized, encoded, hex.EncodeToString(sum[:]), nil
}

func normalizeString(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		normalized := normalizeString(value)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
