package sqlgen

import (
	"fmt"

	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/state"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

// Diff is the difference between the desired final table and the existing one.
type Diff struct {
	Added   []stream.Column
	Altered []stream.Column
	// Incompatible means the table cannot be migrated in place and needs a soft reset.
	Incompatible bool
	Reasons      []string
}

func (d *Diff) incompatible(format string, args ...any) {
	d.Incompatible = true
	d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
}

// DiffColumns compares cfg with the existing columns (lowercase name to reported type).
// Columns present only in the existing table are left alone.
func (g *Generator) DiffColumns(cfg stream.Config, existing map[string]string) (Diff, error) {
	var diff Diff
	meta := []struct {
		name string
		want dialect.ColumnType
	}{
		{stream.ColumnRawID, g.d.RawIDType()},
		{stream.ColumnExtractedAt, g.d.TimestampType()},
		{stream.ColumnMeta, g.d.SemiStructuredType()},
	}
	for _, m := range meta {
		got, ok := existing[m.name]
		switch {
		case !ok:
			diff.incompatible("meta column %s is missing", m.name)
		case !m.want.Matches(got):
			diff.incompatible("meta column %s is %s, want %s", m.name, got, m.want.Reported)
		}
	}

	integer := g.d.PrimitiveType(types.Integer)
	for _, c := range cfg.Columns {
		want, err := dialect.ToColumnType(c.Type, g.d)
		if err != nil {
			return Diff{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
		got, ok := existing[c.Name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, c)
		case want.Matches(got):
		case want.Kind == types.Number && integer.Matches(got) && g.canAlter():
			diff.Altered = append(diff.Altered, c)
		default:
			diff.incompatible("column %s is %s, want %s", c.Name, got, want.Reported)
		}
	}
	return diff, nil
}

func (g *Generator) canAlter() bool {
	_, ok := g.d.AlterColumnType("", "", g.d.PrimitiveType(types.Number))
	return ok
}

// Plan is the schema reconciliation for one stream pass.
type Plan struct {
	SoftReset  bool
	Reasons    []string
	Statements []types.Statement
}

// Namespaces lists the distinct raw and final namespaces of cfgs in first-seen order.
func Namespaces(cfgs ...stream.Config) []string {
	seen := make(map[string]bool)
	var out []string
	for _, cfg := range cfgs {
		for _, ns := range []string{cfg.ID.RawNamespace, cfg.ID.FinalNamespace} {
			if !seen[ns] {
				seen[ns] = true
				out = append(out, ns)
			}
		}
	}
	return out
}

// Reconcile plans the DDL bringing the stream's tables to cfg. The namespaces must already
// exist. existing holds the final table's columns and is empty when the table does not exist.
// A soft reset is planned when st requests one, st predates the current layout, or the
// existing table is incompatible.
func (g *Generator) Reconcile(cfg stream.Config, st state.DestinationState, existing map[string]string) (Plan, error) {
	var plan Plan
	plan.Statements = append(plan.Statements, g.CreateRawTableIfNotExists(cfg.ID))

	if st.NeedsSoftReset {
		plan.SoftReset = true
		plan.Reasons = append(plan.Reasons, "destination state requests a soft reset")
	}
	if st.SchemaVersion < state.CurrentSchemaVersion {
		plan.SoftReset = true
		plan.Reasons = append(plan.Reasons, fmt.Sprintf("state schema version %d is older than %d",
			st.SchemaVersion, state.CurrentSchemaVersion))
	}

	var diff Diff
	if len(existing) > 0 {
		var err error
		if diff, err = g.DiffColumns(cfg, existing); err != nil {
			return Plan{}, err
		}
		if diff.Incompatible {
			plan.SoftReset = true
			plan.Reasons = append(plan.Reasons, diff.Reasons...)
		}
	}

	create, err := g.CreateFinalTableIfNotExists(cfg)
	if err != nil {
		return Plan{}, err
	}
	if plan.SoftReset {
		plan.Statements = append(plan.Statements, g.SoftResetFinalTable(cfg.ID)...)
		plan.Statements = append(plan.Statements, create)
		return plan, nil
	}

	plan.Statements = append(plan.Statements, create)
	alters, err := g.AlterFinalTable(cfg, diff)
	if err != nil {
		return Plan{}, err
	}
	plan.Statements = append(plan.Statements, alters...)
	return plan, nil
}
