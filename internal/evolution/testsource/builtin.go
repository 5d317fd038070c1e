package testsource

import (
	"github.com/google/uuid"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// builtinRegression is the baseline suite covering the seed organism's
// components. It pins the contracts any accepted modification must keep.
func builtinRegression() map[string][]models.TestCase {
	mk := func(component, name, description, script string) models.TestCase {
		return models.TestCase{
			ID:          uuid.New().String(),
			Name:        name,
			Description: description,
			Component:   component,
			Script:      script,
			Origin:      models.TestOriginRegression,
		}
	}

	return map[string][]models.TestCase{
		"genome": {
			mk("genome", "genome_identity", "identity fields stay stable",
				"g = genome()\n"+
					"assert_eq(g[\"name\"], \"autogs\")\n"+
					"assert_true(g[\"generation\"] >= 1, \"generation must stay positive\")\n"+
					"assert_contains(g[\"traits\"], \"verify\")\n"),
		},
		"metabolize": {
			mk("metabolize", "metabolize_sums_positive", "positive pulses accumulate",
				"assert_eq(metabolize([1, 2, 3]), 6)\n"),
			mk("metabolize", "metabolize_ignores_negative", "negative pulses are inert",
				"assert_eq(metabolize([-5, 5]), 5)\n"+
					"assert_eq(metabolize([]), 0)\n"),
		},
		"replicate": {
			mk("replicate", "replicate_count", "offspring count matches request",
				"kids = replicate(3)\n"+
					"assert_eq(len(kids), 3)\n"+
					"assert_eq(kids[0][\"parent\"], \"autogs\")\n"),
			mk("replicate", "replicate_zero", "zero offspring is a valid request",
				"assert_eq(len(replicate(0)), 0)\n"),
		},
		"vitality": {
			mk("vitality", "vitality_baseline", "health score never drops below baseline",
				"assert_true(vitality() >= 30, \"vitality below baseline\")\n"),
		},
	}
}
