package scheduler

import (
	"fmt"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
)

// RulesFromConfig builds schedule rules from the static YAML configuration.
// Rule IDs are synthesized from the pair and position since the file has no
// stable identifiers.
func RulesFromConfig(cfgs []config.ScheduleRuleConfig) []Rule {
	rules := make([]Rule, 0, len(cfgs))
	for i, c := range cfgs {
		rules = append(rules, Rule{
			ID:         fmt.Sprintf("cfg-%d-%s-%s", i, c.PanelName, c.Database),
			PanelName:  c.PanelName,
			Database:   panel.Database{Name: c.Database},
			Kind:       c.Kind,
			AnchorTime: c.AnchorTime,
			AnchorDay:  c.AnchorDay,
			CronExpr:   c.CronExpr,
			Enabled:    c.Enabled,
		})
	}
	return rules
}
