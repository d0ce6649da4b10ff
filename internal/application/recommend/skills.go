package recommend

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taosiq/p2pskillx-sub000/internal/domain/user"
)

//go:embed skills.yaml
var defaultSkillsYAML []byte

type skillTableFile struct {
	Version int                 `yaml:"version"`
	Related map[string][]string `yaml:"related"`
}

// SkillTable maps a skill key to the categories of complementary courses.
type SkillTable map[string][]string

// ParseSkillTable reads a related-skills YAML document.
func ParseSkillTable(data []byte) (SkillTable, error) {
	var f skillTableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse skill table: %w", err)
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("parse skill table: unsupported version %d", f.Version)
	}
	t := make(SkillTable, len(f.Related))
	for k, vs := range f.Related {
		key := user.SkillKey(k)
		for _, v := range vs {
			t[key] = append(t[key], user.SkillKey(v))
		}
	}
	return t, nil
}

var (
	defaultTableOnce sync.Once
	defaultTable     SkillTable
)

// DefaultSkillTable is the embedded table. It is parsed once.
func DefaultSkillTable() SkillTable {
	defaultTableOnce.Do(func() {
		t, err := ParseSkillTable(defaultSkillsYAML)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

// Related returns the complementary categories for skills, in table order
// per skill, without duplicates and without the skills themselves.
func (t SkillTable) Related(skills []string) []string {
	own := make(map[string]bool, len(skills))
	keys := make([]string, 0, len(skills))
	for _, s := range skills {
		k := user.SkillKey(s)
		if k == "" || own[k] {
			continue
		}
		own[k] = true
		keys = append(keys, k)
	}

	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		for _, rel := range t[k] {
			if own[rel] || seen[rel] {
				continue
			}
			seen[rel] = true
			out = append(out, rel)
		}
	}
	return out
}

// userSkills merges declared and verified skills in a stable order.
func userSkills(u *user.User) []string {
	out := append([]string(nil), u.Skills...)
	verified := make([]string, 0, len(u.VerifiedSkills))
	for k := range u.VerifiedSkills {
		verified = append(verified, k)
	}
	sort.Strings(verified)
	out = append(out, verified...)
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}
