package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager загружает и разбирает файлы планов.
type Manager struct {
	logger *zap.Logger
}

// PlanFile представляет структуру YAML-файла плана
type PlanFile struct {
	Tasks []struct {
		TaskName          string   `yaml:"task_name"`
		Workflow          string   `yaml:"workflow"`
		Pool              string   `yaml:"pool"`
		Wallets           []string `yaml:"wallets"`
		AmountSol         float64  `yaml:"amount_sol"`
		Shape             string   `yaml:"shape"`
		RangeWidth        int32    `yaml:"range_width"`
		TokenMint         string   `yaml:"token_mint"`
		Delay             string   `yaml:"delay"`
		ContinueOnFailure bool     `yaml:"continue_on_failure"`
	} `yaml:"tasks"`
}

// NewManager создает Manager с заданным логгером.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger.Named("task")}
}

// LoadTasks читает план. Шаги идут в порядке файла; любой невалидный шаг
// бракует весь план: поздние шаги обычно зависят от ранних.
// defaultWidth подставляется в range_width, если шаг его не задал.
func (m *Manager) LoadTasks(path string, defaultWidth int32) ([]*Task, error) {
	if filepath.IsAbs(path) {
		m.logger.Debug("Using absolute path for plan file", zap.String("path", path))
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var plan PlanFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks found in plan")
	}

	tasks := make([]*Task, 0, len(plan.Tasks))
	for i, raw := range plan.Tasks {
		name := strings.TrimSpace(raw.TaskName)
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		wf, err := parseWorkflow(strings.ToLower(strings.TrimSpace(raw.Workflow)))
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", name, err)
		}
		shape, err := domain.ParseShape(raw.Shape)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", name, err)
		}
		width := raw.RangeWidth
		if width == 0 {
			width = defaultWidth
		}
		var delay time.Duration
		if raw.Delay != "" {
			if delay, err = time.ParseDuration(raw.Delay); err != nil {
				return nil, fmt.Errorf("task %q: invalid delay: %w", name, err)
			}
		}

		t := &Task{
			ID:                i,
			TaskName:          name,
			Workflow:          wf,
			Pool:              strings.TrimSpace(raw.Pool),
			Wallets:           raw.Wallets,
			AmountSol:         raw.AmountSol,
			Shape:             shape,
			RangeWidth:        width,
			TokenMint:         strings.TrimSpace(raw.TokenMint),
			Delay:             delay,
			ContinueOnFailure: raw.ContinueOnFailure,
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("task %q: %w", name, err)
		}
		tasks = append(tasks, t)
	}

	m.logger.Info("Loaded plan", zap.String("path", path), zap.Int("tasks", len(tasks)))
	return tasks, nil
}
