package generator

import (
	"fmt"
	"strings"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

// applyTemplate appends the minimal structural placeholder for the
// hypothesis kind. Definitions are suffixed with the successor revision
// number so repeated fallbacks on the same component never collide.
func applyTemplate(hyp models.Hypothesis, parent models.Revision) string {
	seq := parent.Seq + 1
	base := strings.TrimRight(parent.Source, "\n")

	var addition string
	switch hyp.Kind {
	case models.KindExpandFunctionality:
		addition = fmt.Sprintf(
			"def %s_probe_r%d():\n"+
				"    \"\"\"Auto-generated probe extending %s.\"\"\"\n"+
				"    return {\"component\": %q, \"revision\": %d, \"alive\": True}\n",
			hyp.Component, seq, hyp.Component, hyp.Component, seq)
	case models.KindOptimizePerformance:
		addition = fmt.Sprintf(
			"def %s_tuning_r%d():\n"+
				"    \"\"\"Tuning descriptor for %s, pending a real optimization.\"\"\"\n"+
				"    return {\"component\": %q, \"strategy\": \"memoize\", \"revision\": %d}\n",
			hyp.Component, seq, hyp.Component, hyp.Component, seq)
	case models.KindIntegrateModules:
		addition = fmt.Sprintf(
			"def integrate_%s_r%d():\n"+
				"    \"\"\"Integration seam for %s.\"\"\"\n"+
				"    return {\"link\": %q, \"revision\": %d}\n",
			hyp.Component, seq, hyp.Component, hyp.Component, seq)
	default: // refactor_simplification and anything unrecognized
		addition = fmt.Sprintf(
			"def %s_review_r%d():\n"+
				"    \"\"\"Simplification marker for %s.\"\"\"\n"+
				"    return {\"component\": %q, \"action\": \"simplify\", \"revision\": %d}\n",
			hyp.Component, seq, hyp.Component, hyp.Component, seq)
	}

	return base + "\n\n" + addition
}
