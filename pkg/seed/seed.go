// Package seed loads a classifier tree described in YAML and applies it
// through the services, so every write passes the usual validation.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/uralreduktor/seny/pkg/apperrors"
	"github.com/uralreduktor/seny/pkg/models"
	"github.com/uralreduktor/seny/pkg/schemadoc"
	"github.com/uralreduktor/seny/pkg/services"
)

// File is the root of a seed document.
type File struct {
	Presets []Preset `yaml:"presets"`
	Nodes   []Node   `yaml:"nodes"`
}

// Preset describes one attribute preset.
type Preset struct {
	Code        string         `yaml:"code"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Schema      map[string]any `yaml:"json_schema"`
}

// Node describes one classifier node and its subtree.
type Node struct {
	Code           string         `yaml:"code"`
	Name           string         `yaml:"name"`
	Type           string         `yaml:"type"`
	Schema         map[string]any `yaml:"json_schema"`
	Presets        []string       `yaml:"presets"`
	ExcludePresets []string       `yaml:"exclude_presets"`
	Children       []Node         `yaml:"children"`
}

// LoadFile reads and parses a seed document.
func LoadFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return Parse(content)
}

// Parse decodes a seed document and checks that every node has a code, a
// name and a known type.
func Parse(content []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("parsing seed YAML: %w", err)
	}

	for _, p := range f.Presets {
		if p.Code == "" || p.Title == "" {
			return nil, fmt.Errorf("preset %q: code and title are required", p.Code)
		}
	}
	var check func(nodes []Node) error
	check = func(nodes []Node) error {
		for _, n := range nodes {
			if n.Code == "" || n.Name == "" {
				return fmt.Errorf("node %q: code and name are required", n.Code)
			}
			if !models.NodeType(n.Type).IsValid() {
				return fmt.Errorf("node %q: unknown type %q", n.Code, n.Type)
			}
			if err := check(n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(f.Nodes); err != nil {
		return nil, err
	}
	return &f, nil
}

// NodeLookup finds nodes by code.
type NodeLookup interface {
	GetByCode(ctx context.Context, code string) (*models.ClassifierNode, error)
}

// PresetLookup finds presets by code.
type PresetLookup interface {
	GetByCode(ctx context.Context, code string) (*models.AttributePreset, error)
}

// Seeder applies seed documents.
type Seeder struct {
	nodes        services.NodeService
	schemas      services.SchemaService
	presets      services.PresetService
	nodeLookup   NodeLookup
	presetLookup PresetLookup
	logger       *zap.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(
	nodes services.NodeService,
	schemas services.SchemaService,
	presets services.PresetService,
	nodeLookup NodeLookup,
	presetLookup PresetLookup,
	logger *zap.Logger,
) *Seeder {
	return &Seeder{
		nodes:        nodes,
		schemas:      schemas,
		presets:      presets,
		nodeLookup:   nodeLookup,
		presetLookup: presetLookup,
		logger:       logger.Named("seed"),
	}
}

// Stats counts what Apply created and skipped.
type Stats struct {
	PresetsCreated   int
	NodesCreated     int
	NodesSkipped     int
	SchemasPublished int
}

// Apply creates presets, then nodes parent first, publishing each new node's
// schema as version 1. Codes that already exist are skipped, so re-running
// the same file is a no-op.
func (s *Seeder) Apply(ctx context.Context, f *File) (*Stats, error) {
	stats := &Stats{}
	presetIDs := make(map[string]int64, len(f.Presets))

	for _, p := range f.Presets {
		existing, err := s.presetLookup.GetByCode(ctx, p.Code)
		if err == nil {
			presetIDs[p.Code] = existing.ID
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return stats, fmt.Errorf("preset %q: %w", p.Code, err)
		}

		doc, err := toDocument(p.Schema)
		if err != nil {
			return stats, fmt.Errorf("preset %q: %w", p.Code, err)
		}
		input := &models.PresetCreate{Code: p.Code, Title: p.Title, Document: doc}
		if p.Description != "" {
			input.Description = &p.Description
		}
		created, err := s.presets.CreatePreset(ctx, input)
		if err != nil {
			return stats, fmt.Errorf("preset %q: %w", p.Code, err)
		}
		presetIDs[p.Code] = created.ID
		stats.PresetsCreated++
	}

	for _, n := range f.Nodes {
		if err := s.applyNode(ctx, n, nil, presetIDs, stats); err != nil {
			return stats, err
		}
	}

	s.logger.Info("Applied classifier seed",
		zap.Int("presets_created", stats.PresetsCreated),
		zap.Int("nodes_created", stats.NodesCreated),
		zap.Int("nodes_skipped", stats.NodesSkipped),
		zap.Int("schemas_published", stats.SchemasPublished))
	return stats, nil
}

func (s *Seeder) applyNode(ctx context.Context, n Node, parentID *int64, presetIDs map[string]int64, stats *Stats) error {
	node, err := s.nodeLookup.GetByCode(ctx, n.Code)
	switch {
	case err == nil:
		stats.NodesSkipped++
	case errors.Is(err, apperrors.ErrNotFound):
		node, err = s.createNode(ctx, n, parentID, presetIDs, stats)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("node %q: %w", n.Code, err)
	}

	for _, child := range n.Children {
		if err := s.applyNode(ctx, child, &node.ID, presetIDs, stats); err != nil {
			return err
		}
	}
	return nil
}

func (s *Seeder) createNode(ctx context.Context, n Node, parentID *int64, presetIDs map[string]int64, stats *Stats) (*models.ClassifierNode, error) {
	node, err := s.nodes.CreateNode(ctx, &models.NodeCreate{
		Code:     n.Code,
		Name:     n.Name,
		NodeType: models.NodeType(n.Type),
		ParentID: parentID,
	})
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.Code, err)
	}
	stats.NodesCreated++

	if n.Schema == nil && len(n.Presets) == 0 && len(n.ExcludePresets) == 0 {
		return node, nil
	}

	doc, err := toDocument(n.Schema)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.Code, err)
	}
	include, err := resolvePresets(n.Presets, presetIDs)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.Code, err)
	}
	exclude, err := resolvePresets(n.ExcludePresets, presetIDs)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.Code, err)
	}

	sv, err := s.schemas.CreateVersion(ctx, node.ID, &models.SchemaDraft{
		Document:         doc,
		PresetIDs:        include,
		ExcludePresetIDs: exclude,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("node %q schema: %w", n.Code, err)
	}
	if _, err := s.schemas.PublishVersion(ctx, node.ID, sv.Version, nil); err != nil {
		return nil, fmt.Errorf("node %q publish: %w", n.Code, err)
	}
	stats.SchemasPublished++
	return node, nil
}

func resolvePresets(codes []string, ids map[string]int64) ([]int64, error) {
	out := make([]int64, 0, len(codes))
	for _, code := range codes {
		id, ok := ids[code]
		if !ok {
			return nil, fmt.Errorf("%w: unknown preset %q", apperrors.ErrInvalidInput, code)
		}
		out = append(out, id)
	}
	return out, nil
}

// toDocument normalizes a YAML-decoded schema to the JSON value shapes the
// validator expects, e.g. float64 numbers.
func toDocument(raw map[string]any) (schemadoc.Document, error) {
	if raw == nil {
		return schemadoc.Document{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	var doc schemadoc.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	return doc, nil
}
