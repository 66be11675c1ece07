package progress

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

const exportSheet = "Progress"

var exportHeader = []interface{}{
	"student",
	"username",
	"module",
	"status",
	"paragraphs_done",
	"paragraphs_total",
	"assigned_at",
	"started_at",
	"completed_at",
}

func exportTime(t time.Time) interface{} {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Export writes an XLSX workbook of the Progress visible to actor.
func (svc *Service) Export(ctx context.Context, actor profile.Profile, filter *QueryFilter, w io.Writer) error {
	if !actor.IsAdmin() {
		return core.ErrForbidden
	}
	rows, err := svc.Query(ctx, actor, filter, []core.DBOrdering{{Field: "assigned_at", Ascending: true}})
	if err != nil {
		return errors.Wrap(err, "querying progress")
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err = f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), exportSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	if err = f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "creating header style")
	}
	if err = f.SetRowStyle(exportSheet, 1, 1, style); err != nil {
		return errors.Wrap(err, "styling header")
	}

	for i, p := range rows {
		row := []interface{}{
			p.StudentName,
			p.StudentUsername,
			p.ModuleTitle,
			p.Status,
			p.CurrentParagraph,
			p.ParagraphCount,
			exportTime(p.AssignedAt),
			exportTime(p.StartedAt),
			exportTime(p.CompletedAt),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "computing cell name")
		}
		if err = f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return errors.Wrap(err, "writing row")
		}
	}
	if err = f.SetColWidth(exportSheet, "A", "I", 20); err != nil {
		return errors.Wrap(err, "sizing columns")
	}

	return errors.Wrap(f.Write(w), "writing workbook")
}
