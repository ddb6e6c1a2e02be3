package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/tools"
)

// Seed is the content of a seed file.
type Seed struct {
	Agents      []store.Agent      `yaml:"agents"`
	Tools       []tools.Record     `yaml:"tools"`
	DataWindows []store.DataWindow `yaml:"data_windows"`
	Documents   []SeedDocument     `yaml:"documents"`
}

// SeedDocument is a document whose data is written in YAML and stored as
// JSON.
type SeedDocument struct {
	ID    string      `yaml:"id"`
	OrgID string      `yaml:"org_id"`
	Data  interface{} `yaml:"data"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &seed, nil
}

// Apply writes every seed record to st. Tool record schemas are checked
// before anything is written.
func (s *Seed) Apply(ctx context.Context, st store.Store) error {
	for i := range s.Tools {
		rec := s.Tools[i]
		if rec.ID == "" || rec.Name == "" {
			return fmt.Errorf("seed tool %d: id and name are required", i)
		}
		if rec.Schema != nil {
			if err := rec.Schema.Check(); err != nil {
				return fmt.Errorf("seed tool %s: %w", rec.ID, err)
			}
		}
	}

	for i := range s.Agents {
		if err := st.PutAgent(ctx, &s.Agents[i]); err != nil {
			return fmt.Errorf("seed agent %s: %w", s.Agents[i].ID, err)
		}
	}
	for i := range s.Tools {
		if err := st.PutTool(ctx, &s.Tools[i]); err != nil {
			return fmt.Errorf("seed tool %s: %w", s.Tools[i].ID, err)
		}
	}
	for i := range s.DataWindows {
		if err := st.PutDataWindow(ctx, &s.DataWindows[i]); err != nil {
			return fmt.Errorf("seed data window %s: %w", s.DataWindows[i].ID, err)
		}
	}
	for _, d := range s.Documents {
		raw, err := json.Marshal(d.Data)
		if err != nil {
			return fmt.Errorf("seed document %s: %w", d.ID, err)
		}
		if err := st.PutDocument(ctx, &store.Document{ID: d.ID, OrgID: d.OrgID, Data: raw}); err != nil {
			return fmt.Errorf("seed document %s: %w", d.ID, err)
		}
	}
	return nil
}
