package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Required subdirectories of the rule repository. Tier assignment follows
// the containing directory.
const (
	DeclarativeDir = "declarative_knowledge"
	ProceduralDir  = "procedural_knowledge"
)

// Repository loads and validates the rule documents of both tiers. Rules
// are parsed once at load; lookups return the cached parsed form.
type Repository struct {
	dir string
	log *slog.Logger

	mu          sync.RWMutex
	declarative []StructuredRule
	procedural  []StructuredRule
}

// NewRepository validates the repository layout under dir, loads both
// tiers and returns a ready repository.
func NewRepository(dir string, log *slog.Logger) (*Repository, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Repository{dir: dir, log: log}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-validates the layout, re-parses every document and atomically
// swaps the rule sets. On error the previous rule sets stay in place.
func (r *Repository) Reload() error {
	if err := r.ensureLayout(); err != nil {
		return err
	}

	declarative, err := loadTier(filepath.Join(r.dir, DeclarativeDir), TierDeclarative)
	if err != nil {
		return err
	}
	procedural, err := loadTier(filepath.Join(r.dir, ProceduralDir), TierProcedural)
	if err != nil {
		return err
	}

	// Procedural rules must run strictly after every declarative rule.
	if len(declarative) > 0 && len(procedural) > 0 {
		maxDecl := declarative[len(declarative)-1].ExecutionOrder
		minProc := procedural[0].ExecutionOrder
		if minProc <= maxDecl {
			return fmt.Errorf("procedural execution_order %d must exceed declarative maximum %d: %w",
				minProc, maxDecl, ErrRulesValidation)
		}
	}

	r.mu.Lock()
	r.declarative = declarative
	r.procedural = procedural
	r.mu.Unlock()
	r.log.Info("rule repository loaded",
		"dir", r.dir, "declarative", len(declarative), "procedural", len(procedural))
	return nil
}

// Tiers returns the loaded rule sets in execution order, declarative first.
func (r *Repository) Tiers() (declarative, procedural []StructuredRule) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.declarative, r.procedural
}

// ensureLayout creates the two required subdirectories when missing and
// rejects any other subdirectory.
func (r *Repository) ensureLayout() error {
	for _, sub := range []string{DeclarativeDir, ProceduralDir} {
		if err := os.MkdirAll(filepath.Join(r.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", sub, err)
		}
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read rule repository: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if entry.Name() != DeclarativeDir && entry.Name() != ProceduralDir {
			return fmt.Errorf("unexpected subdirectory %q: %w", entry.Name(), ErrRulesValidation)
		}
	}
	return nil
}

// loadTier parses every .json document under dir, sorted by execution
// order ascending with rule name as tie-breaker.
func loadTier(dir string, tier Tier) ([]StructuredRule, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	rules := make([]StructuredRule, 0, len(paths))
	for _, path := range paths {
		rule, err := loadRuleFile(path, tier)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		rules = append(rules, *rule)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].ExecutionOrder != rules[j].ExecutionOrder {
			return rules[i].ExecutionOrder < rules[j].ExecutionOrder
		}
		return rules[i].RuleName < rules[j].RuleName
	})
	return rules, nil
}
