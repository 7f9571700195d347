package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kasuganosora/questforge/server/game/quest"
	"gopkg.in/yaml.v3"
)

// LocaleTable holds objective text for one locale. Objectives maps an
// objective type to a format string; Overrides maps "<quest>.<objective>"
// to fixed text for a single objective.
type LocaleTable struct {
	Objectives map[string]string `yaml:"objectives"`
	Overrides  map[string]string `yaml:"overrides"`
}

var builtinObjectiveText = map[quest.ObjectiveType]string{
	quest.ObjectiveInteractNPC:   "Talk to {target}",
	quest.ObjectiveKillMob:       "Defeat {count} {target}",
	quest.ObjectiveCollectItem:   "Collect {count} {target}",
	quest.ObjectiveCraftItem:     "Craft {count} {target}",
	quest.ObjectiveDeliverItem:   "Deliver {count} {target} to {npc}",
	quest.ObjectiveVisitLocation: "Visit {target}",
	quest.ObjectiveSurvive:       "Survive for {seconds} seconds",
	quest.ObjectiveFishing:       "Catch {count} {target}",
	quest.ObjectivePlaceBlock:    "Place {count} {target}",
	quest.ObjectiveBreakBlock:    "Break {count} {target}",
	quest.ObjectiveHarvest:       "Harvest {count} {target}",
	quest.ObjectivePayCurrency:   "Pay {count} {currency}",
}

func (rl *ResourceLoader) loadLocales() error {
	if rl.LangPath == "" {
		return nil
	}
	entries, err := os.ReadDir(rl.LangPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resource: read %s: %w", rl.LangPath, err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(rl.LangPath, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("resource: read %s: %w", path, err)
		}
		var table LocaleTable
		if err := yaml.Unmarshal(data, &table); err != nil {
			return fmt.Errorf("resource: parse %s: %w", path, err)
		}
		rl.Locales[strings.TrimSuffix(e.Name(), ext)] = &table
	}
	return nil
}

// Describe renders the player-facing text of o in locale, falling back to
// the default locale and then to built-in English.
func (rl *ResourceLoader) Describe(questID quest.QuestID, o quest.Objective, locale string) string {
	key := string(questID) + "." + o.ID
	tables := rl.lookupOrder(locale)

	for _, t := range tables {
		if s, ok := t.Overrides[key]; ok {
			return s
		}
	}
	if o.Label != "" {
		return o.Label
	}
	for _, t := range tables {
		if f, ok := t.Objectives[string(o.Type)]; ok {
			return render(f, o)
		}
	}
	if f, ok := builtinObjectiveText[o.Type]; ok {
		return render(f, o)
	}
	return o.ID
}

func (rl *ResourceLoader) lookupOrder(locale string) []*LocaleTable {
	out := make([]*LocaleTable, 0, 2)
	if t, ok := rl.Locales[locale]; ok {
		out = append(out, t)
	}
	if locale != rl.DefaultLocale {
		if t, ok := rl.Locales[rl.DefaultLocale]; ok {
			out = append(out, t)
		}
	}
	return out
}

func render(format string, o quest.Objective) string {
	target := o.Target.Entity
	if target == "" {
		target = "any"
	}
	return strings.NewReplacer(
		"{count}", strconv.Itoa(o.Required),
		"{target}", target,
		"{npc}", o.Target.NPC,
		"{currency}", o.Target.Currency,
		"{seconds}", strconv.Itoa(int(o.Target.Duration.Seconds())),
	).Replace(format)
}
