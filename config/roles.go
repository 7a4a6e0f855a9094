package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
)

// RolesFile is the YAML layout of the role ladder file.
type RolesFile struct {
	// Horizon of the trend view in days. Zero means the default of 12.
	HorizonDays int `yaml:"horizon_days"`

	// Shortest run of practice days that counts as a streak. Zero means 2.
	StreakMinimumRun int `yaml:"streak_minimum_run"`

	Tiers   []LadderStep `yaml:"tiers"`
	Streaks []LadderStep `yaml:"streaks"`
}

// LadderStep is one threshold and the role that represents it.
type LadderStep struct {
	Identifier string `yaml:"identifier"`
	Minimum    int64  `yaml:"minimum"`
	Role       string `yaml:"role"`
}

// LoadLadder reads and validates the role ladder at path.
func LoadLadder(path string) (progress.Ladder, error) {
	f, err := os.Open(path)
	if err != nil {
		return progress.Ladder{}, fmt.Errorf("open roles file: %w", err)
	}
	defer f.Close()

	return ParseLadder(f)
}

// ParseLadder decodes a role ladder and validates it. Unknown keys are rejected.
// The returned error matches shared.ErrEmptyThresholdTable or
// shared.ErrInvalidThresholdTable when the ladder itself is unusable.
func ParseLadder(r io.Reader) (progress.Ladder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return progress.Ladder{}, fmt.Errorf("read roles file: %w", err)
	}

	var file RolesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return progress.Ladder{}, fmt.Errorf("decode roles file: %w", err)
	}

	ladder := file.Ladder()
	if err := ladder.Validate(); err != nil {
		return progress.Ladder{}, fmt.Errorf("roles file: %w", err)
	}
	if ladder.HorizonDays < 0 {
		return progress.Ladder{}, fmt.Errorf("roles file: horizon_days must not be negative")
	}
	if ladder.Streak.MinimumRun < 0 {
		return progress.Ladder{}, fmt.Errorf("roles file: streak_minimum_run must not be negative")
	}
	return ladder, nil
}

// Ladder converts the file into the engine's configuration.
func (f RolesFile) Ladder() progress.Ladder {
	tiers, tierRoles := convertSteps(f.Tiers)
	streaks, streakRoles := convertSteps(f.Streaks)

	return progress.Ladder{
		Tiers:       tiers,
		Streaks:     streaks,
		TierRoles:   tierRoles,
		StreakRoles: streakRoles,
		HorizonDays: f.HorizonDays,
		Streak:      progress.StreakPolicy{MinimumRun: f.StreakMinimumRun},
	}
}

func convertSteps(steps []LadderStep) (progress.ThresholdTable, progress.RoleMap) {
	table := make(progress.ThresholdTable, 0, len(steps))
	roles := make(progress.RoleMap, len(steps))
	for _, s := range steps {
		table = append(table, progress.Threshold{Minimum: s.Minimum, Identifier: s.Identifier})
		roles[s.Identifier] = s.Role
	}
	return table, roles
}
