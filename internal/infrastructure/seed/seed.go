// Package seed loads catalog definitions from a YAML file at startup.
//
// Layout:
//
//	projects:
//	  - id: web
//	    name: Web Basics
//	    level_display_name: Belt
//	    levels: [{level: 1, min_points: 20}]
//	    subjects:
//	      - id: html
//	        name: HTML
//	        skills:
//	          - id: tags
//	            point_increment: 10
//	            num_perform_to_completion: 2
//	            depends_on: [intro]
//	badges:
//	  - id: polyglot          # no project: global badge
//	    enabled: true
//	    skills: [{project: web, skill: tags}]
//	    levels: [{project: web, level: 1}]
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// File is the decoded seed document.
type File struct {
	Projects []Project `yaml:"projects"`
	Badges   []Badge   `yaml:"badges"`
}

// Project is a project with its subjects.
type Project struct {
	ID               string             `yaml:"id"`
	Name             string             `yaml:"name"`
	LevelDisplayName string             `yaml:"level_display_name"`
	Levels           catalog.LevelTable `yaml:"levels"`
	Subjects         []Subject          `yaml:"subjects"`
}

// Subject is a subject with its skills.
type Subject struct {
	ID     string             `yaml:"id"`
	Name   string             `yaml:"name"`
	Levels catalog.LevelTable `yaml:"levels"`
	Skills []Skill            `yaml:"skills"`
}

// Skill is a skill definition. DependsOn lists prerequisite skill ids in the same project.
type Skill struct {
	ID                                 string   `yaml:"id"`
	Name                               string   `yaml:"name"`
	PointIncrement                     int      `yaml:"point_increment"`
	NumPerformToCompletion             int      `yaml:"num_perform_to_completion"`
	PointIncrementInterval             int      `yaml:"point_increment_interval"`
	NumMaxOccurrencesIncrementInterval int      `yaml:"num_max_occurrences_increment_interval"`
	SelfReportingType                  string   `yaml:"self_reporting_type"`
	DependsOn                          []string `yaml:"depends_on"`
}

// Badge is a project badge, or a global one when Project is empty.
type Badge struct {
	Project string                     `yaml:"project"`
	ID      string                     `yaml:"id"`
	Name    string                     `yaml:"name"`
	Enabled bool                       `yaml:"enabled"`
	Skills  []catalog.SkillRef         `yaml:"skills"`
	Levels  []catalog.LevelRequirement `yaml:"levels"`
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, shared.WrapError("seed", "Parse", shared.ErrConfig, "invalid seed document", err)
	}
	return &f, nil
}

// Load reads and decodes the seed file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return Parse(bytes.NewReader(data))
}

// Definitions flattens the document into catalog order: projects, subjects,
// skills, dependencies, badges.
func (f *File) Definitions() *catalog.Definitions {
	defs := &catalog.Definitions{}
	for _, p := range f.Projects {
		defs.Projects = append(defs.Projects, catalog.Project{
			ID:               p.ID,
			Name:             p.Name,
			LevelDisplayName: p.LevelDisplayName,
			Levels:           p.Levels,
		})
		for _, s := range p.Subjects {
			defs.Subjects = append(defs.Subjects, catalog.Subject{
				ProjectID: p.ID, ID: s.ID, Name: s.Name, Levels: s.Levels,
			})
			for _, sk := range s.Skills {
				defs.Skills = append(defs.Skills, catalog.Skill{
					ProjectID:                          p.ID,
					SubjectID:                          s.ID,
					ID:                                 sk.ID,
					Name:                               sk.Name,
					PointIncrement:                     sk.PointIncrement,
					NumPerformToCompletion:             sk.NumPerformToCompletion,
					PointIncrementInterval:             sk.PointIncrementInterval,
					NumMaxOccurrencesIncrementInterval: sk.NumMaxOccurrencesIncrementInterval,
					SelfReportingType:                  catalog.SelfReportingType(sk.SelfReportingType),
				})
				for _, pre := range sk.DependsOn {
					defs.Dependencies = append(defs.Dependencies, catalog.DependencyEdge{
						Dependent:    catalog.SkillRef{ProjectID: p.ID, SkillID: sk.ID},
						Prerequisite: catalog.SkillRef{ProjectID: p.ID, SkillID: pre},
					})
				}
			}
		}
	}
	for _, b := range f.Badges {
		defs.Badges = append(defs.Badges, catalog.Badge{
			ProjectID:      b.Project,
			ID:             b.ID,
			Name:           b.Name,
			Enabled:        b.Enabled,
			RequiredSkills: b.Skills,
			RequiredLevels: b.Levels,
		})
	}
	return defs
}

// Apply loads the seed file and upserts its definitions into the catalog.
// Dependencies are added after every skill exists, so order within the file is free.
func Apply(ctx context.Context, cat *catalog.Catalog, path string, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	f, err := Load(path)
	if err != nil {
		return err
	}
	defs := f.Definitions()
	if err := cat.Apply(ctx, defs); err != nil {
		return fmt.Errorf("seed: apply %s: %w", path, err)
	}
	log.Info("catalog seeded",
		logger.String("path", path),
		logger.Int("projects", len(defs.Projects)),
		logger.Int("skills", len(defs.Skills)),
		logger.Int("badges", len(defs.Badges)),
		logger.Int64("catalog_version", cat.View().Version()),
	)
	return nil
}
