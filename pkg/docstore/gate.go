package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
)

// Gate refuses edits to a process output until every other input of each
// process it belongs to has been written at least once.
type Gate struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewGate creates a process gate.
func NewGate(db *gorm.DB, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{db: db, logger: logger}
}

// Check returns PreconditionFailed naming the unwritten inputs that block
// an edit of (project, document). Documents that are not process outputs
// always pass.
func (g *Gate) Check(ctx context.Context, project, document string) error {
	db := g.db.WithContext(ctx)

	var processes []string
	err := db.Model(&ProcessMember{}).
		Where("project_name = ? AND document_name = ? AND role = ?", project, document, RoleOutput).
		Pluck("process_name", &processes).Error
	if err != nil {
		return fmt.Errorf("list output processes: %w", err)
	}
	if len(processes) == 0 {
		return nil
	}

	var unmet []string
	err = db.Table("process_members AS m").
		Joins("JOIN documents AS d ON d.project_name = m.project_name AND d.name = m.document_name").
		Where("m.project_name = ? AND m.process_name IN ? AND m.role = ? AND m.document_name <> ?",
			project, processes, RoleInput, document).
		Where("d.created_at IS NULL").
		Pluck("m.document_name", &unmet).Error
	if err != nil {
		return fmt.Errorf("check process inputs: %w", err)
	}
	if len(unmet) == 0 {
		return nil
	}

	names := mapset.NewThreadUnsafeSet[string](unmet...).ToSlice()
	sort.Strings(names)
	g.logger.Info("edit blocked by unwritten process inputs",
		"project", project, "document", document, "inputs", names)
	return PreconditionFailedf("inputs %s of %s must be written first", strings.Join(names, ", "), document)
}
