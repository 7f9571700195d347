package resource

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kasuganosora/questforge/server/game/quest"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed quest.schema.json
var questSchemaJSON string

// ---- on-disk quest definitions ----

type questFile struct {
	Quests map[string]questDef `json:"quests"`
}

type questDef struct {
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Sequential    bool           `json:"sequential"`
	Repeatable    bool           `json:"repeatable"`
	Daily         bool           `json:"daily"`
	Cooldown      string         `json:"cooldown"`
	MinLevel      int            `json:"min_level"`
	MaxLevel      int            `json:"max_level"`
	Prerequisites []string       `json:"prerequisites"`
	Objectives    []objectiveDef `json:"objectives"`
	Reward        rewardDef      `json:"reward"`
}

type objectiveDef struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Target   string `json:"target"`
	NPC      string `json:"npc"`
	Currency string `json:"currency"`
	Duration string `json:"duration"`
	Count    int    `json:"count"`
	Label    string `json:"label"`
}

type rewardDef struct {
	Exp      int64            `json:"exp"`
	Currency map[string]int64 `json:"currency"`
	Items    map[string]int   `json:"items"`
}

// ResourceLoader reads quest definitions and locale tables from disk.
// After Load it is read-only and safe for concurrent use.
type ResourceLoader struct {
	DataPath      string
	LangPath      string
	DefaultLocale string

	Templates []*quest.Template
	Locales   map[string]*LocaleTable

	schema *jsonschema.Schema
}

// NewLoader creates a ResourceLoader. langPath may be empty when no locale
// tables are shipped.
func NewLoader(dataPath, langPath, defaultLocale string) *ResourceLoader {
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	return &ResourceLoader{
		DataPath:      dataPath,
		LangPath:      langPath,
		DefaultLocale: defaultLocale,
		Locales:       make(map[string]*LocaleTable),
	}
}

// Load reads every quest file and locale table.
func (rl *ResourceLoader) Load() error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	rl.schema = schema

	loaders := []func() error{
		rl.loadQuests,
		rl.loadLocales,
	}
	for _, fn := range loaders {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// BuildCatalog registers the loaded templates into a new catalog and
// validates the prerequisite graph.
func (rl *ResourceLoader) BuildCatalog(rp quest.ResetPolicy) (*quest.Catalog, error) {
	c := quest.NewCatalog(rp)
	for _, t := range rl.Templates {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("quest.schema.json", strings.NewReader(questSchemaJSON)); err != nil {
		return nil, fmt.Errorf("resource: quest schema: %w", err)
	}
	s, err := c.Compile("quest.schema.json")
	if err != nil {
		return nil, fmt.Errorf("resource: quest schema: %w", err)
	}
	return s, nil
}

func (rl *ResourceLoader) loadQuests() error {
	files, err := dataFiles(rl.DataPath)
	if err != nil {
		return err
	}
	seen := make(map[quest.QuestID]string)
	for _, path := range files {
		var qf questFile
		if err := decodeFile(path, rl.schema, &qf); err != nil {
			return err
		}
		ids := make([]string, 0, len(qf.Quests))
		for id := range qf.Quests {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			t, err := qf.Quests[id].template(quest.QuestID(id))
			if err != nil {
				return fmt.Errorf("resource: %s: %w", path, err)
			}
			if prev, dup := seen[t.ID]; dup {
				return fmt.Errorf("resource: %s: %w: %s (also in %s)", path, quest.ErrDuplicateQuestID, t.ID, prev)
			}
			seen[t.ID] = path
			rl.Templates = append(rl.Templates, t)
		}
	}
	return nil
}

// dataFiles lists the yaml and json files under dir in lexical order.
func dataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// decodeFile parses a yaml or json document, checks it against schema and
// decodes it into out.
func decodeFile[T any](path string, schema *jsonschema.Schema, out *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("resource: read %s: %w", path, err)
	}
	raw, err := toJSON(path, data)
	if err != nil {
		return fmt.Errorf("resource: parse %s: %w", path, err)
	}
	if schema != nil {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("resource: parse %s: %w", path, err)
		}
		if err := schema.Validate(doc); err != nil {
			return fmt.Errorf("resource: %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("resource: decode %s: %w", path, err)
	}
	return nil
}

func toJSON(path string, data []byte) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return data, nil
	}
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return json.Marshal(doc)
}

// ---- conversion into engine templates ----

func (d questDef) template(id quest.QuestID) (*quest.Template, error) {
	t := &quest.Template{
		ID:         id,
		Name:       d.Name,
		Category:   quest.ParseCategory(d.Category),
		Sequential: d.Sequential,
		Repeatable: d.Repeatable || d.Daily,
		Daily:      d.Daily,
		MinLevel:   d.MinLevel,
		MaxLevel:   d.MaxLevel,
		Reward:     d.Reward.reward(),
	}
	if d.Cooldown != "" {
		cd, err := time.ParseDuration(d.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("quest %s: cooldown: %w", id, err)
		}
		t.Cooldown = cd
	}
	for _, p := range d.Prerequisites {
		t.Prerequisites = append(t.Prerequisites, quest.QuestID(p))
	}
	for _, od := range d.Objectives {
		o, err := od.objective()
		if err != nil {
			return nil, fmt.Errorf("quest %s: %w", id, err)
		}
		t.Objectives = append(t.Objectives, o)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (d objectiveDef) objective() (quest.Objective, error) {
	typ := quest.ObjectiveType(d.Type)
	o := quest.Objective{
		ID:       d.ID,
		Type:     typ,
		Target:   quest.Target{Entity: d.Target, NPC: d.NPC, Currency: d.Currency},
		Required: d.Count,
		Label:    d.Label,
	}
	switch {
	case typ == quest.ObjectiveSurvive:
		if d.Duration == "" {
			return o, fmt.Errorf("%w: %s: survive needs a duration", quest.ErrInvalidObjective, d.ID)
		}
		dur, err := time.ParseDuration(d.Duration)
		if err != nil {
			return o, fmt.Errorf("%w: %s: %v", quest.ErrInvalidObjective, d.ID, err)
		}
		o.Target.Duration = dur
		o.Required = int(dur / time.Second)
	case o.Required == 0:
		o.Required = 1
	}
	return o, nil
}

func (d rewardDef) reward() quest.Reward {
	r := quest.Reward{Exp: d.Exp}
	for _, c := range sortedKeys(d.Currency) {
		r.Currency = append(r.Currency, quest.CurrencyAmount{Currency: c, Amount: d.Currency[c]})
	}
	for _, it := range sortedKeys(d.Items) {
		r.Items = append(r.Items, quest.RewardItem{Item: it, Qty: d.Items[it]})
	}
	return r
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
