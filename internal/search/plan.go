package search

import "github.com/lumen-network/lumen-gateway/pkg/models"

const (
	defaultLimit  = 20
	discoverLimit = 50
	maxLimit      = 100
)

// exploreKinds is the base-kind override of explore-everything mode.
var exploreKinds = []string{"html", "text", "image", "doc"}

// BuildPlan turns a classification plus raw paging inputs into the query
// plan the engine executes. Limit clamps to [1, 100] with intent-specific
// defaults; offset clamps at zero.
func BuildPlan(cls Classification, limit, offset int, explore bool) models.QueryPlan {
	plan := models.QueryPlan{
		Intent: cls.Intent,
		Limit:  limit,
		Offset: offset,
	}
	if cls.Target != TargetMixed {
		plan.TargetKind = cls.Target
	}

	switch cls.Intent {
	case IntentNavigation:
		// Navigation queries go straight to site resolution; token search
		// would only surface noise.
		plan.NoQuery = true
	case IntentQuestion:
		plan.BaseKinds = []string{"doc", "site"}
	case IntentContent:
		plan.BaseKinds = []string{"image", "media"}
	case IntentDiscover:
		if plan.Limit <= 0 {
			plan.Limit = discoverLimit
		}
	case IntentDownload:
		plan.BaseKinds = []string{"file", "code", "doc"}
	}

	if explore {
		plan.BaseKinds = append([]string(nil), exploreKinds...)
	}

	if plan.Limit <= 0 {
		plan.Limit = defaultLimit
	}
	if plan.Limit > maxLimit {
		plan.Limit = maxLimit
	}
	if plan.Offset < 0 {
		plan.Offset = 0
	}
	return plan
}
