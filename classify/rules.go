package classify

// Rules is the deployment-time description of what counts as a Shorts
// element. The zero value is not usable; start from DefaultRules.
type Rules struct {
	// Containers lists the element tags eligible for classification.
	Containers []string `yaml:"containers"`
	// RoutePrefix is the URL path prefix of a Shorts video, e.g. "/shorts/".
	RoutePrefix string `yaml:"route_prefix"`
	// FlagAttr is the boolean attribute flagging a Shorts shelf.
	FlagAttr string `yaml:"flag_attr"`
	// ShelfAttr is the data attribute marking a Shorts shelf.
	ShelfAttr string `yaml:"shelf_attr"`
}

// Rule names, in evaluation order.
const (
	RuleShelfFlag        = "shelf-flag"
	RuleShelfMarker      = "shelf-marker"
	RuleShortsLink       = "shorts-link"
	RuleShortsDescendant = "shorts-descendant"
)

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		Containers: []string{
			"a",
			"ytd-rich-shelf-renderer",
			"ytd-reel-shelf-renderer",
			"ytd-rich-section-renderer",
			"ytd-compact-video-renderer",
			"ytd-video-renderer",
			"ytd-grid-video-renderer",
		},
		RoutePrefix: "/shorts/",
		FlagAttr:    "is-shorts",
		ShelfAttr:   "data-shorts-shelf",
	}
}

// Merge returns r with every non-empty field of o applied on top.
func (r Rules) Merge(o Rules) Rules {
	if len(o.Containers) > 0 {
		r.Containers = append([]string(nil), o.Containers...)
	}
	if o.RoutePrefix != "" {
		r.RoutePrefix = o.RoutePrefix
	}
	if o.FlagAttr != "" {
		r.FlagAttr = o.FlagAttr
	}
	if o.ShelfAttr != "" {
		r.ShelfAttr = o.ShelfAttr
	}
	return r
}
